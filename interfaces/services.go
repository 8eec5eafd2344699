package interfaces

import (
	"context"

	"github.com/customeros/dmarcwatch/internal/models"
)

// SenderMatcher answers whether a signing or SPF domain belongs to a
// known legitimate sending service.
type SenderMatcher interface {
	MatchesDkim(ctx context.Context, domain string) bool
	MatchesSpf(ctx context.Context, domain string) bool
}

// SenderService is the third-party sender registry: CRUD with regex
// validation at write time plus the cached matcher surface.
type SenderService interface {
	SenderMatcher
	Create(ctx context.Context, sender *models.ThirdPartySender) error
	Update(ctx context.Context, sender *models.ThirdPartySender) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.ThirdPartySender, error)
	List(ctx context.Context) ([]models.ThirdPartySender, error)
	InvalidateCache()
}

// IngestionService turns an uploaded buffer into a persisted report with
// classified, enrichment-scheduled records.
type IngestionService interface {
	Ingest(ctx context.Context, data []byte, filename string) (*models.Report, error)
}

// ReprocessService drives bulk re-classification jobs.
type ReprocessService interface {
	StartJob(ctx context.Context) (*models.ReprocessJob, error)
	GetJob(ctx context.Context, id string) (*models.ReprocessJob, error)
	CurrentJob(ctx context.Context) (*models.ReprocessJob, error)
	RequestCancel(ctx context.Context, id string) (*models.ReprocessJob, error)
	ResumeOnStartup(ctx context.Context) error
}
