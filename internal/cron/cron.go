package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/dmarcwatch/config"
	"github.com/customeros/dmarcwatch/interfaces"
	cron_config "github.com/customeros/dmarcwatch/internal/cron/config"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/repository"
	"github.com/customeros/dmarcwatch/internal/tracing"
)

// CONSTANTS
const (
	// GroupDmarcwatch is the group for dmarcwatch related jobs
	GroupDmarcwatch = "dmarcwatch"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupDmarcwatch: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg         *config.Config
	log         logger.Logger
	cron        *cronv3.Cron
	k8s         kubernetes.Interface
	stopCh      chan struct{}
	jobIDs      map[string]cronv3.EntryID
	geolocation interfaces.GeolocationService
	ipLocations repository.IPLocationRepository
}

func NewCronManager(
	cfg *config.Config,
	log logger.Logger,
	k8s kubernetes.Interface,
	geolocation interfaces.GeolocationService,
	ipLocations repository.IPLocationRepository,
) *CronManager {
	return &CronManager{
		cfg:         cfg,
		log:         log,
		k8s:         k8s,
		stopCh:      make(chan struct{}),
		jobIDs:      make(map[string]cronv3.EntryID),
		geolocation: geolocation,
		ipLocations: ipLocations,
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "dmarcwatch-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		ctx := context.Background()
		le.Run(ctx)
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	if cronConfig.CronScheduleGeoBackfill != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleGeoBackfill, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupDmarcwatch].Lock()
			defer jobLocks.locks[GroupDmarcwatch].Unlock()
			cm.scanUnresolvedGeolocations()
		})
		if err != nil {
			cm.log.Fatalf("Could not add geolocation backfill cron job: %v", err)
		}
		cm.jobIDs["geo_backfill"] = id
		cm.log.Infof("Registered geolocation backfill job with schedule: %s", cronConfig.CronScheduleGeoBackfill)
	}

	if cronConfig.CronScheduleLocationCleanup != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleLocationCleanup, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupDmarcwatch].Lock()
			defer jobLocks.locks[GroupDmarcwatch].Unlock()
			cm.cleanupStaleLocations()
		})
		if err != nil {
			cm.log.Fatalf("Could not add location cleanup cron job: %v", err)
		}
		cm.jobIDs["location_cleanup"] = id
		cm.log.Infof("Registered location cleanup job with schedule: %s", cronConfig.CronScheduleLocationCleanup)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) scanUnresolvedGeolocations() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.scanUnresolvedGeolocations")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	queued, err := cm.geolocation.ScanUnresolved(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to scan unresolved geolocations: %v", err)
		return
	}

	cm.log.Infof("Geolocation backfill queued %d IPs", queued)
}

// cleanupStaleLocations drops cache rows older than twice the freshness
// TTL so re-lookups replace them instead of the table growing forever.
func (cm *CronManager) cleanupStaleLocations() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.cleanupStaleLocations")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	ttl := time.Duration(cm.cfg.GeolocationConfig.CacheTTLHours) * time.Hour
	if ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-2 * ttl)

	deleted, err := cm.ipLocations.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to clean up stale locations: %v", err)
		return
	}

	cm.log.Infof("Removed %d stale location cache rows", deleted)
}
