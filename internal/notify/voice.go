package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/tbourn/contest-notifier/internal/contests"
	"github.com/tbourn/contest-notifier/internal/domain"
)

// callCreator is the subset of the Twilio REST API used by VoiceChannel.
type callCreator interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// TwilioConfig holds the voice provider credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	// VoiceURL serves the TwiML played when the call connects.
	VoiceURL string
}

// VoiceChannel places a phone call through Twilio.
type VoiceChannel struct {
	api      callCreator
	from     string
	voiceURL string
}

// NewVoiceChannel builds a Twilio-backed channel.
func NewVoiceChannel(cfg TwilioConfig) (*VoiceChannel, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, fmt.Errorf("twilio: account sid, auth token and sender number are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newVoiceChannel(client.Api, cfg.From, cfg.VoiceURL), nil
}

func newVoiceChannel(api callCreator, from, voiceURL string) *VoiceChannel {
	if voiceURL == "" {
		voiceURL = "http://demo.twilio.com/docs/voice.xml"
	}
	return &VoiceChannel{api: api, from: from, voiceURL: voiceURL}
}

// Send implements Channel. The Twilio SDK call is not context-aware, so ctx
// is only checked before dialing.
func (v *VoiceChannel) Send(ctx context.Context, p domain.Principal, c contests.Contest, _ time.Time) error {
	to := strings.TrimSpace(p.Phone)
	if to == "" {
		return fmt.Errorf("%w: phone for %s", ErrMissingContact, p.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(v.from)
	params.SetUrl(v.voiceURL)

	if _, err := v.api.CreateCall(params); err != nil {
		return fmt.Errorf("%w: twilio call for %s: %w", ErrTransport, c.Name, err)
	}
	return nil
}
