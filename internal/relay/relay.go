// Package relay defines the collaborator interfaces the orchestrator needs
// from the media plane: per-platform stream relaying and ingest credential
// issuance. Real RTMP/HLS transport lives outside this module; the stubs here
// are enough to run the daemon and to test the lifecycle paths.
package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Credentials is the set handed to the platform relay for one broadcast.
type Credentials struct {
	IngestURL   string
	StreamKey   string
	PlaybackURL string
}

// Relay fans the outgoing stream out to one external platform.
//
// Begin is called once per enabled platform when a broadcast goes live, End
// once when it stops. End failures are logged by the caller and never block
// the rest of the teardown.
type Relay interface {
	Begin(ctx context.Context, platform string, creds Credentials) error
	End(ctx context.Context, platform string) error
}

// Issuer mints stream credentials for a broadcast.
type Issuer interface {
	Issue(ctx context.Context, broadcastID string) (Credentials, error)
}

// LocalIssuer issues uuid-based stream keys under configured base URLs.
type LocalIssuer struct {
	IngestBase   string
	PlaybackBase string
}

func (i LocalIssuer) Issue(_ context.Context, broadcastID string) (Credentials, error) {
	if strings.TrimSpace(broadcastID) == "" {
		return Credentials{}, fmt.Errorf("broadcast id required")
	}
	key := uuid.NewString()
	ingest := strings.TrimRight(i.IngestBase, "/")
	if ingest == "" {
		ingest = "rtmp://localhost/live"
	}
	playback := strings.TrimRight(i.PlaybackBase, "/")
	if playback == "" {
		playback = "https://localhost/watch"
	}
	return Credentials{
		IngestURL:   ingest + "/" + broadcastID,
		StreamKey:   key,
		PlaybackURL: playback + "/" + broadcastID,
	}, nil
}

// LogRelay accepts every relay call and only logs it. Used when no real
// media plane is wired up.
type LogRelay struct {
	Log zerolog.Logger
}

func (r LogRelay) Begin(_ context.Context, platform string, creds Credentials) error {
	r.Log.Info().Str("platform", platform).Str("ingest", creds.IngestURL).Msg("relay begin")
	return nil
}

func (r LogRelay) End(_ context.Context, platform string) error {
	r.Log.Info().Str("platform", platform).Msg("relay end")
	return nil
}
