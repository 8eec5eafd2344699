package dmarc

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/enum"
	er "github.com/customeros/dmarcwatch/internal/errors"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/models"
	"github.com/customeros/dmarcwatch/services/classifier"
)

type fakeReportRepo struct {
	mu      sync.Mutex
	rows    map[string]*models.Report
	upserts int
	nextID  int
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{rows: map[string]*models.Report{}}
}

func (r *fakeReportRepo) Upsert(ctx context.Context, report *models.Report) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if existing, ok := r.rows[report.ReportID]; ok {
		report.ID = existing.ID
		clone := *report
		r.rows[report.ReportID] = &clone
		return false, nil
	}
	r.nextID++
	report.ID = fmt.Sprintf("rep_%d", r.nextID)
	clone := *report
	r.rows[report.ReportID] = &clone
	return true, nil
}

func (r *fakeReportRepo) GetByID(ctx context.Context, id string) (*models.Report, error) {
	panic("not used")
}
func (r *fakeReportRepo) GetByReportID(ctx context.Context, reportID string) (*models.Report, error) {
	panic("not used")
}
func (r *fakeReportRepo) List(ctx context.Context, limit, offset int) ([]models.Report, int64, error) {
	panic("not used")
}

type geoResultCall struct {
	ids []string
	loc *interfaces.GeoLocation
}

type fakeIngestRecordRepo struct {
	mu         sync.Mutex
	replaced   map[string][]*models.Record
	replaces   int
	geoResults []geoResultCall
	nextID     int
}

func newFakeIngestRecordRepo() *fakeIngestRecordRepo {
	return &fakeIngestRecordRepo{replaced: map[string][]*models.Record{}}
}

func (r *fakeIngestRecordRepo) ReplaceForReport(ctx context.Context, reportID string, records []*models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaces++
	for _, rec := range records {
		r.nextID++
		rec.ID = fmt.Sprintf("rec_%d", r.nextID)
		rec.ReportID = reportID
	}
	r.replaced[reportID] = records
	return nil
}

func (r *fakeIngestRecordRepo) UpdateGeoResult(ctx context.Context, ids []string, loc *interfaces.GeoLocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.geoResults = append(r.geoResults, geoResultCall{ids: ids, loc: loc})
	return nil
}

func (r *fakeIngestRecordRepo) GetByID(ctx context.Context, id string) (*models.Record, error) {
	panic("not used")
}
func (r *fakeIngestRecordRepo) ListByReport(ctx context.Context, reportID string) ([]models.Record, error) {
	panic("not used")
}
func (r *fakeIngestRecordRepo) ListIDsForReprocess(ctx context.Context) ([]string, error) {
	panic("not used")
}
func (r *fakeIngestRecordRepo) LoadBatchWithChildren(ctx context.Context, ids []string) ([]models.Record, error) {
	panic("not used")
}
func (r *fakeIngestRecordRepo) UpdateForwarding(ctx context.Context, id string, forwarded *bool, reason *string, reprocessed bool) error {
	panic("not used")
}
func (r *fakeIngestRecordRepo) ResetReprocessedFlags(ctx context.Context) error { panic("not used") }
func (r *fakeIngestRecordRepo) CountAll(ctx context.Context) (int64, error)    { panic("not used") }
func (r *fakeIngestRecordRepo) CountPendingReprocess(ctx context.Context) (int64, error) {
	panic("not used")
}
func (r *fakeIngestRecordRepo) PendingGeoByIP(ctx context.Context) (map[string][]string, error) {
	panic("not used")
}
func (r *fakeIngestRecordRepo) UpdateGeoStatus(ctx context.Context, ids []string, status enum.GeoStatus) error {
	panic("not used")
}

type enqueueCall struct {
	ip       string
	ids      []string
	priority enum.GeoPriority
}

type fakeGeoService struct {
	mu         sync.Mutex
	sync       bool
	resolveLoc *interfaces.GeoLocation
	resolveErr error
	enqueues   []enqueueCall
	resolves   []string
}

func (g *fakeGeoService) Start(ctx context.Context) {}
func (g *fakeGeoService) Stop()                     {}

func (g *fakeGeoService) Enqueue(ip string, recordIDs []string, priority enum.GeoPriority) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enqueues = append(g.enqueues, enqueueCall{ip: ip, ids: recordIDs, priority: priority})
}

func (g *fakeGeoService) ResolveNow(ctx context.Context, ip string) (*interfaces.GeoLocation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolves = append(g.resolves, ip)
	return g.resolveLoc, g.resolveErr
}

func (g *fakeGeoService) ScanUnresolved(ctx context.Context) (int, error) { return 0, nil }
func (g *fakeGeoService) Stats() interfaces.QueueStats                    { return interfaces.QueueStats{} }
func (g *fakeGeoService) Clear()                                          {}
func (g *fakeGeoService) SetSyncMode(sync bool)                           { g.sync = sync }
func (g *fakeGeoService) SyncMode() bool                                  { return g.sync }

type noMatch struct{}

func (noMatch) MatchesDkim(ctx context.Context, domain string) bool { return false }
func (noMatch) MatchesSpf(ctx context.Context, domain string) bool  { return false }

func newTestIngestion(reports *fakeReportRepo, records *fakeIngestRecordRepo, geo *fakeGeoService) interfaces.IngestionService {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	classifierService := classifier.NewClassifierService(noMatch{}, appLogger)
	return NewIngestionService(appLogger, reports, records, classifierService, geo)
}

const ingestFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feedback>
  <report_metadata>
    <org_name>google.com</org_name>
    <email>noreply-dmarc-support@google.com</email>
    <report_id>8261714527065719837</report_id>
    <date_range><begin>1706227200</begin><end>1706313599</end></date_range>
  </report_metadata>
  <policy_published>
    <domain>example.com</domain>
    <p>quarantine</p>
  </policy_published>
  <record>
    <row>
      <source_ip>203.0.113.5</source_ip>
      <count>3</count>
      <policy_evaluated><disposition>none</disposition><dkim>pass</dkim><spf>pass</spf></policy_evaluated>
    </row>
    <identifiers><header_from>example.com</header_from></identifiers>
    <auth_results>
      <dkim><domain>example.com</domain><selector>s1</selector><result>pass</result></dkim>
      <spf><domain>example.com</domain><result>pass</result></spf>
    </auth_results>
  </record>
  <record>
    <row>
      <source_ip>203.0.113.5</source_ip>
      <count>1</count>
      <policy_evaluated><disposition>quarantine</disposition><dkim>fail</dkim><spf>fail</spf></policy_evaluated>
    </row>
    <identifiers><header_from>example.com</header_from></identifiers>
    <auth_results>
      <dkim><domain>example.com</domain><result>fail</result></dkim>
      <dkim><domain>forwarder.net</domain><result>pass</result></dkim>
    </auth_results>
  </record>
  <record>
    <row>
      <source_ip>198.51.100.9</source_ip>
      <count>2</count>
      <policy_evaluated><disposition>none</disposition><dkim>pass</dkim><spf>pass</spf></policy_evaluated>
    </row>
    <identifiers><header_from>example.com</header_from></identifiers>
    <auth_results>
      <dkim><domain>example.com</domain><result>pass</result></dkim>
    </auth_results>
  </record>
</feedback>`

func TestIngest_FullPipeline(t *testing.T) {
	reports := newFakeReportRepo()
	records := newFakeIngestRecordRepo()
	geo := &fakeGeoService{}
	s := newTestIngestion(reports, records, geo)

	report, err := s.Ingest(context.Background(), []byte(ingestFeed), "report.xml")

	require.NoError(t, err)
	assert.Equal(t, "8261714527065719837", report.ReportID)
	assert.Equal(t, "google.com", report.OrgName)
	assert.Equal(t, "example.com", report.PolicyDomain)
	assert.Equal(t, "quarantine", report.PolicyPublished["p"])
	assert.NotEmpty(t, report.RawXML)

	stored := records.replaced[report.ID]
	require.Len(t, stored, 3)

	// clean delivery: original-domain signature only, not forwarded
	first := stored[0]
	assert.Equal(t, "203.0.113.5", first.SourceIP)
	assert.Equal(t, 3, first.Count)
	assert.Equal(t, enum.DispositionNone, first.Disposition)
	assert.Equal(t, enum.GeoStatusPending, first.GeoStatus)
	require.Len(t, first.AuthResults, 2)
	require.NotNil(t, first.Forwarded)
	assert.False(t, *first.Forwarded)

	// original fails while a foreign signer passes: forwarded
	second := stored[1]
	require.NotNil(t, second.Forwarded)
	assert.True(t, *second.Forwarded)
	require.NotNil(t, second.ForwardedReason)
	assert.Equal(t, "forwarded with modifications", *second.ForwardedReason)

	// geolocation is queued once per distinct IP with every dependent record
	require.Len(t, geo.enqueues, 2)
	byIP := map[string]enqueueCall{}
	for _, call := range geo.enqueues {
		byIP[call.ip] = call
		assert.Equal(t, enum.GeoPriorityNormal, call.priority)
	}
	assert.Len(t, byIP["203.0.113.5"].ids, 2)
	assert.Len(t, byIP["198.51.100.9"].ids, 1)
}

func TestIngest_ReuploadUpdatesInPlace(t *testing.T) {
	reports := newFakeReportRepo()
	records := newFakeIngestRecordRepo()
	s := newTestIngestion(reports, records, &fakeGeoService{})

	first, err := s.Ingest(context.Background(), []byte(ingestFeed), "report.xml")
	require.NoError(t, err)
	second, err := s.Ingest(context.Background(), []byte(ingestFeed), "report.xml")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, reports.upserts)
	assert.Len(t, reports.rows, 1)

	// records are rebuilt, not appended
	assert.Equal(t, 2, records.replaces)
	assert.Len(t, records.replaced[second.ID], 3)
}

func TestIngest_ReportIDFallbackIsDeterministic(t *testing.T) {
	feed := `<feedback>
  <report_metadata>
    <org_name>mailer.example</org_name>
    <date_range><begin>1706227200</begin><end>1706313599</end></date_range>
  </report_metadata>
  <policy_published><domain>example.com</domain></policy_published>
  <record>
    <row><source_ip>203.0.113.5</source_ip><count>1</count></row>
    <identifiers><header_from>example.com</header_from></identifiers>
  </record>
</feedback>`
	reports := newFakeReportRepo()
	s := newTestIngestion(reports, newFakeIngestRecordRepo(), &fakeGeoService{})

	first, err := s.Ingest(context.Background(), []byte(feed), "report.xml")
	require.NoError(t, err)
	second, err := s.Ingest(context.Background(), []byte(feed), "report.xml")
	require.NoError(t, err)

	assert.Equal(t, "mailer.example-example.com-1706227200", first.ReportID)
	assert.Equal(t, first.ID, second.ID)
}

func TestIngest_SyncModeResolvesInline(t *testing.T) {
	records := newFakeIngestRecordRepo()
	loc := &interfaces.GeoLocation{IP: "203.0.113.5", Country: "Netherlands", CountryCode: "NL"}
	geo := &fakeGeoService{sync: true, resolveLoc: loc}
	s := newTestIngestion(newFakeReportRepo(), records, geo)

	_, err := s.Ingest(context.Background(), []byte(ingestFeed), "report.xml")

	require.NoError(t, err)
	assert.Empty(t, geo.enqueues)
	assert.Len(t, geo.resolves, 2)
	require.Len(t, records.geoResults, 2)
	assert.Equal(t, loc, records.geoResults[0].loc)
}

func TestIngest_SyncModeFallsBackToQueueOnError(t *testing.T) {
	geo := &fakeGeoService{sync: true, resolveErr: assert.AnError}
	s := newTestIngestion(newFakeReportRepo(), newFakeIngestRecordRepo(), geo)

	_, err := s.Ingest(context.Background(), []byte(ingestFeed), "report.xml")

	require.NoError(t, err)
	assert.Len(t, geo.enqueues, 2)
	for _, call := range geo.enqueues {
		assert.Equal(t, enum.GeoPriorityNormal, call.priority)
	}
}

func TestIngest_MissingSourceIPIsMarkedFailed(t *testing.T) {
	feed := `<feedback>
  <report_metadata>
    <org_name>mailer.example</org_name>
    <report_id>r-1</report_id>
    <date_range><begin>1706227200</begin><end>1706313599</end></date_range>
  </report_metadata>
  <policy_published><domain>example.com</domain></policy_published>
  <record>
    <row><count>1</count></row>
    <identifiers><header_from>example.com</header_from></identifiers>
  </record>
</feedback>`
	records := newFakeIngestRecordRepo()
	geo := &fakeGeoService{}
	s := newTestIngestion(newFakeReportRepo(), records, geo)

	report, err := s.Ingest(context.Background(), []byte(feed), "report.xml")

	require.NoError(t, err)
	stored := records.replaced[report.ID]
	require.Len(t, stored, 1)
	assert.Equal(t, enum.GeoStatusFailed, stored[0].GeoStatus)
	assert.Empty(t, geo.enqueues)
}

func TestIngest_EmptyInput(t *testing.T) {
	s := newTestIngestion(newFakeReportRepo(), newFakeIngestRecordRepo(), &fakeGeoService{})

	_, err := s.Ingest(context.Background(), nil, "report.xml")

	assert.ErrorIs(t, err, er.ErrEmptyInput)
}

func TestIngest_UnparsableStream(t *testing.T) {
	s := newTestIngestion(newFakeReportRepo(), newFakeIngestRecordRepo(), &fakeGeoService{})

	_, err := s.Ingest(context.Background(), []byte("<feedback><record><row>"), "report.xml")

	assert.ErrorIs(t, err, er.ErrUnparsableReport)
}
