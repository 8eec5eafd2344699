package dmarc

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/enum"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/models"
	"github.com/customeros/dmarcwatch/internal/repository"
	"github.com/customeros/dmarcwatch/internal/tracing"
	"github.com/customeros/dmarcwatch/services/classifier"
	"github.com/customeros/dmarcwatch/services/extractor"
)

type ingestionService struct {
	log         logger.Logger
	reports     repository.ReportRepository
	records     repository.RecordRepository
	classifier  *classifier.Service
	geolocation interfaces.GeolocationService
}

func NewIngestionService(
	log logger.Logger,
	reports repository.ReportRepository,
	records repository.RecordRepository,
	classifierService *classifier.Service,
	geolocation interfaces.GeolocationService,
) interfaces.IngestionService {
	return &ingestionService{
		log:         log,
		reports:     reports,
		records:     records,
		classifier:  classifierService,
		geolocation: geolocation,
	}
}

// Ingest runs the full pipeline for one uploaded buffer: extract the XML,
// normalize it, upsert the report, rebuild its records with forwarding
// verdicts, then schedule (or resolve) geolocation for the source IPs.
func (s *ingestionService) Ingest(ctx context.Context, data []byte, filename string) (*models.Report, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IngestionService.Ingest")
	tracing.TagComponentService(span)
	defer span.Finish()

	xmlText, err := extractor.ExtractXML(data, filename)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	draft, err := ParseFeed(xmlText)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	report := s.buildReport(draft, xmlText)
	created, err := s.reports.Upsert(ctx, report)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	tracing.TagEntity(span, report.ID)
	span.SetTag("report.created", created)

	records := make([]*models.Record, 0, len(draft.Records))
	for _, rd := range draft.Records {
		records = append(records, s.buildRecord(ctx, rd))
	}

	if err := s.records.ReplaceForReport(ctx, report.ID, records); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.scheduleGeolocation(ctx, records)

	s.log.Infof("ingested report %s (%s, %d records, created=%t)", report.ReportID, report.OrgName, len(records), created)
	return report, nil
}

func (s *ingestionService) buildReport(draft *ReportDraft, xmlText string) *models.Report {
	reportID := draft.ReportID
	if reportID == "" {
		// some reporters omit report_id; fall back to a deterministic key
		// so re-uploading the same feed still updates in place
		reportID = fmt.Sprintf("%s-%s-%d", draft.OrgName, draft.Domain, draft.BeginAt.Unix())
	}

	policy := models.JSONMap{}
	for k, v := range draft.Policy {
		policy[k] = v
	}

	return &models.Report{
		ReportID:        reportID,
		OrgName:         draft.OrgName,
		Email:           draft.Email,
		PolicyDomain:    draft.Domain,
		PolicyPublished: policy,
		BeginAt:         draft.BeginAt,
		EndAt:           draft.EndAt,
		RawXML:          xmlText,
	}
}

func (s *ingestionService) buildRecord(ctx context.Context, rd RecordDraft) *models.Record {
	rec := &models.Record{
		SourceIP:     rd.SourceIP,
		Count:        rd.Count,
		Disposition:  enum.Disposition(rd.Disposition),
		DmarcDkim:    enum.DmarcResult(rd.Dkim),
		DmarcSpf:     enum.DmarcResult(rd.Spf),
		EnvelopeTo:   rd.EnvelopeTo,
		EnvelopeFrom: rd.EnvelopeFrom,
		HeaderFrom:   rd.HeaderFrom,
		DkimMissing:  rd.DkimMissing,
		GeoStatus:    enum.GeoStatusPending,
	}

	if rd.SourceIP == "" {
		rec.GeoStatus = enum.GeoStatusFailed
	}

	if len(rd.OverrideReasons) > 0 {
		rec.PolicyOverrideType = rd.OverrideReasons[0].Type
		rec.PolicyOverrideComment = rd.OverrideReasons[0].Comment
	}

	for _, ar := range rd.DKIMResults {
		rec.AuthResults = append(rec.AuthResults, models.RecordAuthResult{
			Kind:        enum.AuthResultDkim,
			Domain:      ar.Domain,
			Selector:    ar.Selector,
			Result:      ar.Result,
			HumanResult: ar.HumanResult,
		})
	}
	for _, ar := range rd.SPFResults {
		rec.AuthResults = append(rec.AuthResults, models.RecordAuthResult{
			Kind:        enum.AuthResultSpf,
			Domain:      ar.Domain,
			Selector:    ar.Selector,
			Result:      ar.Result,
			HumanResult: ar.HumanResult,
		})
	}
	for _, or := range rd.OverrideReasons {
		rec.OverrideReasons = append(rec.OverrideReasons, models.RecordOverrideReason{
			Type:    or.Type,
			Comment: or.Comment,
		})
	}

	verdict := s.classifier.Classify(ctx, classifierInput(rd))
	rec.Forwarded = verdict.Forwarded
	rec.ForwardedReason = verdict.Reason

	return rec
}

func classifierInput(rd RecordDraft) classifier.Input {
	input := classifier.Input{HeaderFrom: rd.HeaderFrom}
	for _, ar := range rd.DKIMResults {
		input.DKIM = append(input.DKIM, classifier.AuthResult{Domain: ar.Domain, Result: ar.Result})
	}
	for _, ar := range rd.SPFResults {
		input.SPF = append(input.SPF, classifier.AuthResult{Domain: ar.Domain, Result: ar.Result})
	}
	for _, or := range rd.OverrideReasons {
		input.OverrideReasons = append(input.OverrideReasons, classifier.OverrideReason{Type: or.Type, Comment: or.Comment})
	}
	return input
}

// scheduleGeolocation groups persisted records by source IP and either
// resolves them inline (sync mode, tests and backfills) or enqueues them
// at normal priority.
func (s *ingestionService) scheduleGeolocation(ctx context.Context, records []*models.Record) {
	byIP := make(map[string][]string)
	for _, rec := range records {
		ip := strings.TrimSpace(rec.SourceIP)
		if ip == "" {
			continue
		}
		byIP[ip] = append(byIP[ip], rec.ID)
	}

	for ip, ids := range byIP {
		if s.geolocation.SyncMode() {
			loc, err := s.geolocation.ResolveNow(ctx, ip)
			if err != nil {
				s.log.Warnf("sync geolocation for %s failed, enqueueing: %v", ip, err)
				s.geolocation.Enqueue(ip, ids, enum.GeoPriorityNormal)
				continue
			}
			if err := s.records.UpdateGeoResult(ctx, ids, loc); err != nil {
				s.log.Errorf("writing geolocation for %s: %v", ip, err)
			}
			continue
		}
		s.geolocation.Enqueue(ip, ids, enum.GeoPriorityNormal)
	}
}
