package senders

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/customeros/dmarcwatch/interfaces"
	er "github.com/customeros/dmarcwatch/internal/errors"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/models"
	"github.com/customeros/dmarcwatch/internal/repository"
)

const cacheTTL = 60 * time.Second

type compiledSender struct {
	name string
	dkim *regexp.Regexp
	spf  *regexp.Regexp
}

// Service is the third-party sender registry. Enabled patterns are kept
// compiled in memory behind a short TTL, invalidated explicitly on every
// write.
type Service struct {
	repo repository.ThirdPartySenderRepository
	log  logger.Logger

	mu        sync.RWMutex
	compiled  []compiledSender
	loadedAt  time.Time
	cacheLive bool
}

func NewSenderService(repo repository.ThirdPartySenderRepository, log logger.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log,
	}
}

var _ interfaces.SenderService = (*Service)(nil)

func (s *Service) Create(ctx context.Context, sender *models.ThirdPartySender) error {
	if err := validatePatterns(sender); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, sender); err != nil {
		return err
	}
	s.InvalidateCache()
	return nil
}

func (s *Service) Update(ctx context.Context, sender *models.ThirdPartySender) error {
	if err := validatePatterns(sender); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, sender); err != nil {
		return err
	}
	s.InvalidateCache()
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.InvalidateCache()
	return nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.ThirdPartySender, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]models.ThirdPartySender, error) {
	return s.repo.List(ctx)
}

// MatchesDkim reports whether the signing domain belongs to an enabled
// known sending service. An empty pattern never matches.
func (s *Service) MatchesDkim(ctx context.Context, domain string) bool {
	for _, sender := range s.enabled(ctx) {
		if sender.dkim != nil && sender.dkim.MatchString(domain) {
			return true
		}
	}
	return false
}

func (s *Service) MatchesSpf(ctx context.Context, domain string) bool {
	for _, sender := range s.enabled(ctx) {
		if sender.spf != nil && sender.spf.MatchString(domain) {
			return true
		}
	}
	return false
}

func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheLive = false
}

func (s *Service) enabled(ctx context.Context) []compiledSender {
	s.mu.RLock()
	if s.cacheLive && time.Since(s.loadedAt) < cacheTTL {
		compiled := s.compiled
		s.mu.RUnlock()
		return compiled
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cacheLive && time.Since(s.loadedAt) < cacheTTL {
		return s.compiled
	}

	rows, err := s.repo.FindEnabled(ctx)
	if err != nil {
		s.log.Errorf("failed to load enabled third-party senders: %v", err)
		// keep serving the stale set rather than matching nothing
		return s.compiled
	}

	compiled := make([]compiledSender, 0, len(rows))
	for _, row := range rows {
		cs := compiledSender{name: row.Name}
		if row.DkimPattern != "" {
			if re, err := regexp.Compile(row.DkimPattern); err == nil {
				cs.dkim = re
			} else {
				s.log.Warnf("skipping invalid dkim pattern for sender %s: %v", row.Name, err)
			}
		}
		if row.SpfPattern != "" {
			if re, err := regexp.Compile(row.SpfPattern); err == nil {
				cs.spf = re
			} else {
				s.log.Warnf("skipping invalid spf pattern for sender %s: %v", row.Name, err)
			}
		}
		compiled = append(compiled, cs)
	}

	s.compiled = compiled
	s.loadedAt = time.Now()
	s.cacheLive = true
	return s.compiled
}

// validatePatterns rejects regexes that do not compile. Runs on every
// write so the table never holds an unusable pattern.
func validatePatterns(sender *models.ThirdPartySender) error {
	if sender == nil {
		return repository.ErrInvalidInput
	}
	if sender.DkimPattern != "" {
		if _, err := regexp.Compile(sender.DkimPattern); err != nil {
			return errors.Wrapf(er.ErrInvalidPattern, "dkim pattern: %v", err)
		}
	}
	if sender.SpfPattern != "" {
		if _, err := regexp.Compile(sender.SpfPattern); err != nil {
			return errors.Wrapf(er.ErrInvalidPattern, "spf pattern: %v", err)
		}
	}
	return nil
}
