package classifier

import (
	"context"
	"strings"

	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/enum"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/models"
	"github.com/customeros/dmarcwatch/internal/utils"
)

// multi-part TLD markers: when the second-to-last label is one of these,
// the base domain keeps three labels (example.co.uk).
var multiPartTLDMarkers = map[string]bool{
	"co":  true,
	"com": true,
	"org": true,
	"net": true,
	"ac":  true,
	"gov": true,
}

// domain fragments of services that forward mail on behalf of tenants
var knownForwarderMarkers = []string{
	"onmicrosoft.com",
	"protection.outlook.com",
	"googlemail.com",
	"mimecast",
	"pphosted.com",
	"barracuda",
}

// AuthResult is one raw DKIM or SPF evaluation used as classification
// evidence.
type AuthResult struct {
	Domain string
	Result string
}

// OverrideReason is a receiver-reported policy override.
type OverrideReason struct {
	Type    string
	Comment string
}

// Input is everything the forwarding decision looks at.
type Input struct {
	HeaderFrom      string
	DKIM            []AuthResult
	SPF             []AuthResult
	OverrideReasons []OverrideReason
}

// Verdict is the tri-state forwarding answer. Forwarded == nil means
// the evidence was insufficient either way.
type Verdict struct {
	Forwarded *bool
	Reason    *string
}

type Service struct {
	matcher interfaces.SenderMatcher
	log     logger.Logger
}

func NewClassifierService(matcher interfaces.SenderMatcher, log logger.Logger) *Service {
	return &Service{
		matcher: matcher,
		log:     log,
	}
}

// InputFromRecord builds classification input from a persisted record and
// its children.
func InputFromRecord(rec *models.Record) Input {
	input := Input{HeaderFrom: rec.HeaderFrom}
	for _, ar := range rec.AuthResults {
		result := AuthResult{Domain: ar.Domain, Result: ar.Result}
		switch ar.Kind {
		case enum.AuthResultDkim:
			input.DKIM = append(input.DKIM, result)
		case enum.AuthResultSpf:
			input.SPF = append(input.SPF, result)
		}
	}
	for _, or := range rec.OverrideReasons {
		input.OverrideReasons = append(input.OverrideReasons, OverrideReason{Type: or.Type, Comment: or.Comment})
	}
	return input
}

// Classify runs the forwarding decision procedure. It never fails: any
// internal panic degrades to an unknown verdict so one bad record cannot
// abort a batch.
func (s *Service) Classify(ctx context.Context, input Input) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Errorf("classifier panic recovered: %v", r)
			}
			verdict = Verdict{}
		}
	}()
	return s.classify(ctx, input)
}

func (s *Service) classify(ctx context.Context, input Input) Verdict {
	// 1. the receiver already told us
	for _, reason := range input.OverrideReasons {
		if strings.EqualFold(strings.TrimSpace(reason.Type), "forwarded") {
			text := "forwarded (receiver reported)"
			if c := strings.TrimSpace(reason.Comment); c != "" {
				text = "forwarded (receiver reported: " + c + ")"
			}
			return Verdict{Forwarded: utils.Ptr(true), Reason: utils.Ptr(text)}
		}
	}

	// 2. no visible From domain, nothing to compare against
	headerFrom := normalizeDomain(input.HeaderFrom)
	if headerFrom == "" {
		return Verdict{}
	}
	headerBase := BaseDomain(headerFrom)

	// 3. known third-party infrastructure wins over the forwarding
	// pattern: a matched domain is a legitimate sender, not a forwarder
	for _, dkim := range input.DKIM {
		if domain := normalizeDomain(dkim.Domain); domain != "" && s.matcher.MatchesDkim(ctx, domain) {
			return Verdict{Forwarded: utils.Ptr(false), Reason: utils.Ptr("legitimate third-party sender (dkim domain match)")}
		}
	}
	for _, spf := range input.SPF {
		if domain := normalizeDomain(spf.Domain); domain != "" && s.matcher.MatchesSpf(ctx, domain) {
			return Verdict{Forwarded: utils.Ptr(false), Reason: utils.Ptr("legitimate third-party sender (spf domain match)")}
		}
	}

	// 4. partition evidence into original-domain vs foreign signers
	var originalDKIM, candidateDKIM, candidateSPF []AuthResult
	for _, dkim := range input.DKIM {
		domain := normalizeDomain(dkim.Domain)
		if domain == "" {
			continue
		}
		if BaseDomain(domain) == headerBase {
			originalDKIM = append(originalDKIM, dkim)
		} else {
			candidateDKIM = append(candidateDKIM, dkim)
		}
	}
	for _, spf := range input.SPF {
		domain := normalizeDomain(spf.Domain)
		if domain == "" {
			continue
		}
		if BaseDomain(domain) != headerBase {
			candidateSPF = append(candidateSPF, spf)
		}
	}

	// 5. original signature plus a foreign signer is the forwarding shape
	if len(originalDKIM) > 0 && len(candidateDKIM)+len(candidateSPF) > 0 {
		originalPassed := anyPassed(originalDKIM)
		allOriginalFailed := !originalPassed
		candidatePassed := anyPassed(candidateDKIM) || anyPassed(candidateSPF)

		switch {
		case allOriginalFailed && candidatePassed:
			return Verdict{Forwarded: utils.Ptr(true), Reason: utils.Ptr("forwarded with modifications")}
		case originalPassed && candidatePassed:
			return Verdict{Forwarded: utils.Ptr(true), Reason: utils.Ptr("forwarded without modifications")}
		case matchesKnownForwarder(candidateDKIM, candidateSPF):
			return Verdict{Forwarded: utils.Ptr(true), Reason: utils.Ptr("forwarded by known service")}
		default:
			return Verdict{Forwarded: utils.Ptr(true), Reason: utils.Ptr("likely forwarded")}
		}
	}

	// 6. remaining shapes: not forwarding, or not enough to say
	switch {
	case len(originalDKIM) > 0:
		// only original-domain signatures, no foreign signer
		return Verdict{Forwarded: utils.Ptr(false), Reason: utils.Ptr("no foreign signer present")}
	case len(candidateDKIM) > 0:
		// foreign DKIM without any original signature: spoofing or plain
		// auth failure, not forwarding
		return Verdict{Forwarded: utils.Ptr(false), Reason: utils.Ptr("no original-domain signature present")}
	case len(input.DKIM) == 0 && len(input.SPF) > 0:
		return Verdict{Forwarded: utils.Ptr(false), Reason: utils.Ptr("spf-only evaluation")}
	default:
		return Verdict{}
	}
}

// BaseDomain strips a domain to its registrable approximation: the last
// two labels, or three when the second-to-last label is a multi-part TLD
// marker (mail.example.co.uk -> example.co.uk).
func BaseDomain(domain string) string {
	labels := strings.Split(normalizeDomain(domain), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, ".")
	}

	keep := 2
	if multiPartTLDMarkers[labels[len(labels)-2]] && len(labels) >= 3 {
		keep = 3
	}
	return strings.Join(labels[len(labels)-keep:], ".")
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimSuffix(domain, ".")))
}

func anyPassed(results []AuthResult) bool {
	for _, r := range results {
		if strings.EqualFold(strings.TrimSpace(r.Result), "pass") {
			return true
		}
	}
	return false
}

func matchesKnownForwarder(groups ...[]AuthResult) bool {
	for _, group := range groups {
		for _, r := range group {
			domain := normalizeDomain(r.Domain)
			for _, marker := range knownForwarderMarkers {
				if strings.Contains(domain, marker) {
					return true
				}
			}
		}
	}
	return false
}
