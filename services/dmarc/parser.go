package dmarc

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	er "github.com/customeros/dmarcwatch/internal/errors"
)

// Draft types produced by the normalizer. Reporters disagree wildly on
// casing and optional elements, so every field may be absent; a missing
// element yields a zero value, never a parse failure.

type ReportDraft struct {
	ReportID string
	OrgName  string
	Email    string
	Domain   string
	Policy   map[string]interface{}
	BeginAt  time.Time
	EndAt    time.Time
	Records  []RecordDraft
}

type AuthResultDraft struct {
	Domain      string
	Selector    string
	Result      string
	HumanResult string
}

type OverrideReasonDraft struct {
	Type    string
	Comment string
}

type RecordDraft struct {
	SourceIP        string
	Count           int
	Disposition     string
	Dkim            string
	Spf             string
	HeaderFrom      string
	EnvelopeFrom    string
	EnvelopeTo      string
	DKIMResults     []AuthResultDraft
	SPFResults      []AuthResultDraft
	OverrideReasons []OverrideReasonDraft
	DkimMissing     bool
}

// feed structs: each tag that appears in both snake_case and camelCase in
// the wild gets one field per variant, resolved by pick().

type xmlFeedback struct {
	XMLName       xml.Name            `xml:"feedback"`
	MetadataSnake *xmlMetadata        `xml:"report_metadata"`
	MetadataCamel *xmlMetadata        `xml:"reportMetadata"`
	PolicySnake   *xmlPolicyPublished `xml:"policy_published"`
	PolicyCamel   *xmlPolicyPublished `xml:"policyPublished"`
	Records       []xmlRecord         `xml:"record"`
}

type xmlMetadata struct {
	OrgNameSnake  string        `xml:"org_name"`
	OrgNameCamel  string        `xml:"orgName"`
	Email         string        `xml:"email"`
	ReportIDSnake string        `xml:"report_id"`
	ReportIDCamel string        `xml:"reportId"`
	DateSnake     *xmlDateRange `xml:"date_range"`
	DateCamel     *xmlDateRange `xml:"dateRange"`
}

type xmlDateRange struct {
	Begin string `xml:"begin"`
	End   string `xml:"end"`
}

type xmlPolicyPublished struct {
	Domain string `xml:"domain"`
	Adkim  string `xml:"adkim"`
	Aspf   string `xml:"aspf"`
	P      string `xml:"p"`
	SP     string `xml:"sp"`
	Pct    string `xml:"pct"`
	Fo     string `xml:"fo"`
}

type xmlRecord struct {
	Row         xmlRow          `xml:"row"`
	Identifiers *xmlIdentifiers `xml:"identifiers"`
	Identities  *xmlIdentifiers `xml:"identities"`
	AuthSnake   *xmlAuthResults `xml:"auth_results"`
	AuthCamel   *xmlAuthResults `xml:"authResults"`
}

type xmlRow struct {
	SourceIPSnake string              `xml:"source_ip"`
	SourceIPCamel string              `xml:"sourceIp"`
	Count         string              `xml:"count"`
	PolicySnake   *xmlPolicyEvaluated `xml:"policy_evaluated"`
	PolicyCamel   *xmlPolicyEvaluated `xml:"policyEvaluated"`
}

// disposition/dkim/spf are slices: some reporters emit a single value,
// some a single-element list; both decode the same way.
type xmlPolicyEvaluated struct {
	Disposition []string    `xml:"disposition"`
	Dkim        []string    `xml:"dkim"`
	Spf         []string    `xml:"spf"`
	Reasons     []xmlReason `xml:"reason"`
}

type xmlReason struct {
	Type    string `xml:"type"`
	Comment string `xml:"comment"`
}

type xmlIdentifiers struct {
	HeaderFromSnake   string `xml:"header_from"`
	HeaderFromCamel   string `xml:"headerFrom"`
	EnvelopeFromSnake string `xml:"envelope_from"`
	EnvelopeFromCamel string `xml:"envelopeFrom"`
	EnvelopeToSnake   string `xml:"envelope_to"`
	EnvelopeToCamel   string `xml:"envelopeTo"`
}

type xmlAuthResults struct {
	Dkim []xmlAuthResult `xml:"dkim"`
	Spf  []xmlAuthResult `xml:"spf"`
}

type xmlAuthResult struct {
	Domain           string `xml:"domain"`
	Selector         string `xml:"selector"`
	Result           string `xml:"result"`
	HumanResultSnake string `xml:"human_result"`
	HumanResultCamel string `xml:"humanResult"`
}

// ParseFeed normalizes a raw aggregate-report XML document into a report
// draft. Only an unparsable byte stream is an error; missing elements
// produce partial drafts.
func ParseFeed(xmlText string) (*ReportDraft, error) {
	var fb xmlFeedback
	if err := xml.Unmarshal([]byte(xmlText), &fb); err != nil {
		return nil, errors.Wrap(er.ErrUnparsableReport, err.Error())
	}

	draft := &ReportDraft{Policy: map[string]interface{}{}}

	meta := firstMetadata(fb.MetadataSnake, fb.MetadataCamel)
	if meta != nil {
		draft.OrgName = strings.TrimSpace(pick(meta.OrgNameSnake, meta.OrgNameCamel))
		draft.Email = strings.TrimSpace(meta.Email)
		draft.ReportID = strings.TrimSpace(pick(meta.ReportIDSnake, meta.ReportIDCamel))
		if dr := firstDateRange(meta.DateSnake, meta.DateCamel); dr != nil {
			draft.BeginAt = epochToTime(dr.Begin)
			draft.EndAt = epochToTime(dr.End)
		}
	}

	if policy := firstPolicy(fb.PolicySnake, fb.PolicyCamel); policy != nil {
		draft.Domain = normalize(policy.Domain)
		draft.Policy = map[string]interface{}{
			"domain": normalize(policy.Domain),
			"adkim":  normalize(policy.Adkim),
			"aspf":   normalize(policy.Aspf),
			"p":      normalize(policy.P),
			"sp":     normalize(policy.SP),
			"pct":    strings.TrimSpace(policy.Pct),
			"fo":     strings.TrimSpace(policy.Fo),
		}
	}

	for _, rec := range fb.Records {
		draft.Records = append(draft.Records, normalizeRecord(rec))
	}

	return draft, nil
}

func normalizeRecord(rec xmlRecord) RecordDraft {
	rd := RecordDraft{
		SourceIP: strings.TrimSpace(pick(rec.Row.SourceIPSnake, rec.Row.SourceIPCamel)),
	}

	if n, err := strconv.Atoi(strings.TrimSpace(rec.Row.Count)); err == nil {
		rd.Count = n
	}

	if pe := firstEvaluated(rec.Row.PolicySnake, rec.Row.PolicyCamel); pe != nil {
		rd.Disposition = normalize(first(pe.Disposition))
		rd.Dkim = normalize(first(pe.Dkim))
		rd.Spf = normalize(first(pe.Spf))
		for _, reason := range pe.Reasons {
			rd.OverrideReasons = append(rd.OverrideReasons, OverrideReasonDraft{
				Type:    normalize(reason.Type),
				Comment: strings.TrimSpace(reason.Comment),
			})
		}
	}

	// identifiers and identities are sibling spellings of the same block
	if ids := firstIdentifiers(rec.Identifiers, rec.Identities); ids != nil {
		rd.HeaderFrom = normalize(pick(ids.HeaderFromSnake, ids.HeaderFromCamel))
		rd.EnvelopeFrom = normalize(pick(ids.EnvelopeFromSnake, ids.EnvelopeFromCamel))
		rd.EnvelopeTo = normalize(pick(ids.EnvelopeToSnake, ids.EnvelopeToCamel))
	}

	if auth := firstAuth(rec.AuthSnake, rec.AuthCamel); auth != nil {
		for _, dkim := range auth.Dkim {
			rd.DKIMResults = append(rd.DKIMResults, toAuthDraft(dkim))
		}
		for _, spf := range auth.Spf {
			rd.SPFResults = append(rd.SPFResults, toAuthDraft(spf))
		}
	}

	// absent DKIM evidence is weaker than failed DKIM; flag it
	rd.DkimMissing = len(rd.DKIMResults) == 0

	return rd
}

func toAuthDraft(ar xmlAuthResult) AuthResultDraft {
	return AuthResultDraft{
		Domain:      normalize(ar.Domain),
		Selector:    strings.TrimSpace(ar.Selector),
		Result:      normalize(ar.Result),
		HumanResult: strings.TrimSpace(pick(ar.HumanResultSnake, ar.HumanResultCamel)),
	}
}

func pick(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func epochToTime(raw string) time.Time {
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

func firstMetadata(candidates ...*xmlMetadata) *xmlMetadata {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func firstDateRange(candidates ...*xmlDateRange) *xmlDateRange {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func firstPolicy(candidates ...*xmlPolicyPublished) *xmlPolicyPublished {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func firstEvaluated(candidates ...*xmlPolicyEvaluated) *xmlPolicyEvaluated {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func firstIdentifiers(candidates ...*xmlIdentifiers) *xmlIdentifiers {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func firstAuth(candidates ...*xmlAuthResults) *xmlAuthResults {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}
