package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/dmarcwatch/internal/enum"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/models"
)

type stubMatcher struct {
	dkimDomains map[string]bool
	spfDomains  map[string]bool
}

func (m *stubMatcher) MatchesDkim(ctx context.Context, domain string) bool {
	return m.dkimDomains[domain]
}

func (m *stubMatcher) MatchesSpf(ctx context.Context, domain string) bool {
	return m.spfDomains[domain]
}

func newTestService(matcher *stubMatcher) *Service {
	if matcher == nil {
		matcher = &stubMatcher{}
	}
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return NewClassifierService(matcher, appLogger)
}

func TestBaseDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"id.example.com", "example.com"},
		{"a.b.c.example.com", "example.com"},
		{"mail.example.co.uk", "example.co.uk"},
		{"tenant.onmicrosoft.com", "onmicrosoft.com"},
		{"example.ac.jp", "example.ac.jp"},
		{"Example.COM.", "example.com"},
		{"localhost", "localhost"},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, BaseDomain(tc.in), "BaseDomain(%q)", tc.in)
	}
}

func TestClassify_ReceiverReportedForwarding(t *testing.T) {
	s := newTestService(nil)

	verdict := s.Classify(context.Background(), Input{
		HeaderFrom:      "example.com",
		OverrideReasons: []OverrideReason{{Type: "Forwarded", Comment: "mailing list"}},
	})

	require.NotNil(t, verdict.Forwarded)
	assert.True(t, *verdict.Forwarded)
	assert.Equal(t, "forwarded (receiver reported: mailing list)", *verdict.Reason)
}

func TestClassify_EmptyHeaderFromIsUnknown(t *testing.T) {
	s := newTestService(nil)

	verdict := s.Classify(context.Background(), Input{
		DKIM: []AuthResult{{Domain: "example.com", Result: "pass"}},
	})

	assert.Nil(t, verdict.Forwarded)
	assert.Nil(t, verdict.Reason)
}

func TestClassify_KnownThirdPartyBeatsForwardingShape(t *testing.T) {
	// sendgrid signs alongside the original domain; registry match must
	// win over the forwarding pattern
	s := newTestService(&stubMatcher{dkimDomains: map[string]bool{"sendgrid.net": true}})

	verdict := s.Classify(context.Background(), Input{
		HeaderFrom: "example.com",
		DKIM: []AuthResult{
			{Domain: "example.com", Result: "pass"},
			{Domain: "sendgrid.net", Result: "pass"},
		},
	})

	require.NotNil(t, verdict.Forwarded)
	assert.False(t, *verdict.Forwarded)
	assert.Equal(t, "legitimate third-party sender (dkim domain match)", *verdict.Reason)
}

func TestClassify_ForwardingShapes(t *testing.T) {
	s := newTestService(nil)
	ctx := context.Background()

	cases := []struct {
		name       string
		input      Input
		wantReason string
	}{
		{
			name: "original failed foreign passed",
			input: Input{
				HeaderFrom: "example.com",
				DKIM: []AuthResult{
					{Domain: "example.com", Result: "fail"},
					{Domain: "forwarder.net", Result: "pass"},
				},
			},
			wantReason: "forwarded with modifications",
		},
		{
			name: "both passed",
			input: Input{
				HeaderFrom: "example.com",
				DKIM: []AuthResult{
					{Domain: "example.com", Result: "pass"},
					{Domain: "forwarder.net", Result: "pass"},
				},
			},
			wantReason: "forwarded without modifications",
		},
		{
			name: "known forwarding service",
			input: Input{
				HeaderFrom: "example.com",
				DKIM: []AuthResult{
					{Domain: "example.com", Result: "fail"},
					{Domain: "tenant.onmicrosoft.com", Result: "fail"},
				},
			},
			wantReason: "forwarded by known service",
		},
		{
			name: "foreign signer everything failed",
			input: Input{
				HeaderFrom: "example.com",
				DKIM: []AuthResult{
					{Domain: "example.com", Result: "fail"},
					{Domain: "random.net", Result: "fail"},
				},
			},
			wantReason: "likely forwarded",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := s.Classify(ctx, tc.input)
			require.NotNil(t, verdict.Forwarded)
			assert.True(t, *verdict.Forwarded)
			assert.Equal(t, tc.wantReason, *verdict.Reason)
		})
	}
}

func TestClassify_NotForwardedShapes(t *testing.T) {
	s := newTestService(nil)
	ctx := context.Background()

	cases := []struct {
		name       string
		input      Input
		wantReason string
	}{
		{
			name: "only original signatures",
			input: Input{
				HeaderFrom: "example.com",
				DKIM:       []AuthResult{{Domain: "mail.example.com", Result: "pass"}},
			},
			wantReason: "no foreign signer present",
		},
		{
			name: "only foreign dkim",
			input: Input{
				HeaderFrom: "example.com",
				DKIM:       []AuthResult{{Domain: "spoofer.biz", Result: "fail"}},
			},
			wantReason: "no original-domain signature present",
		},
		{
			name: "spf only",
			input: Input{
				HeaderFrom: "example.com",
				SPF:        []AuthResult{{Domain: "example.com", Result: "pass"}},
			},
			wantReason: "spf-only evaluation",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := s.Classify(ctx, tc.input)
			require.NotNil(t, verdict.Forwarded)
			assert.False(t, *verdict.Forwarded)
			assert.Equal(t, tc.wantReason, *verdict.Reason)
		})
	}
}

func TestClassify_NoEvidenceIsUnknown(t *testing.T) {
	s := newTestService(nil)

	verdict := s.Classify(context.Background(), Input{HeaderFrom: "example.com"})

	assert.Nil(t, verdict.Forwarded)
}

func TestInputFromRecord(t *testing.T) {
	rec := &models.Record{
		HeaderFrom: "example.com",
		AuthResults: []models.RecordAuthResult{
			{Kind: enum.AuthResultDkim, Domain: "example.com", Result: "pass"},
			{Kind: enum.AuthResultSpf, Domain: "forwarder.net", Result: "pass"},
		},
		OverrideReasons: []models.RecordOverrideReason{
			{Type: "forwarded", Comment: "alias"},
		},
	}

	input := InputFromRecord(rec)

	assert.Equal(t, "example.com", input.HeaderFrom)
	require.Len(t, input.DKIM, 1)
	require.Len(t, input.SPF, 1)
	require.Len(t, input.OverrideReasons, 1)
	assert.Equal(t, "alias", input.OverrideReasons[0].Comment)
}
