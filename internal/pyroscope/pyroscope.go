package pyroscope

import (
	"context"
	"strings"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"

	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/logger"
)

// Service manages the continuous profiling agent lifecycle
type Service struct {
	cfg      *config.Configuration
	logger   *logger.Logger
	profiler *pyroscope.Profiler
}

func NewService(cfg *config.Configuration, logger *logger.Logger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger,
	}
}

// Module provides fx options for the profiler
func Module() fx.Option {
	return fx.Options(
		fx.Provide(NewService),
		fx.Invoke(RegisterHooks),
	)
}

// RegisterHooks starts the profiler with the server and leaves shutdown to
// process exit, the agent has no explicit stop.
func RegisterHooks(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !svc.cfg.Pyroscope.Enabled {
				svc.logger.Debug("profiling disabled")
				return nil
			}

			profileTypes := svc.profileTypes()

			cfg := pyroscope.Config{
				ApplicationName: svc.cfg.Pyroscope.ApplicationName,
				ServerAddress:   svc.cfg.Pyroscope.ServerAddress,
				ProfileTypes:    profileTypes,
				SampleRate:      svc.cfg.Pyroscope.SampleRate,
				Logger:          svc,
			}
			if svc.cfg.Pyroscope.BasicAuthUser != "" {
				cfg.BasicAuthUser = svc.cfg.Pyroscope.BasicAuthUser
				cfg.BasicAuthPassword = svc.cfg.Pyroscope.BasicAuthPass
			}

			profiler, err := pyroscope.Start(cfg)
			if err != nil {
				svc.logger.Errorw("failed to start profiler", "error", err)
				return err
			}
			svc.profiler = profiler

			svc.logger.Infow("profiling started",
				"application_name", svc.cfg.Pyroscope.ApplicationName,
				"server_address", svc.cfg.Pyroscope.ServerAddress,
				"profile_types", profileTypes,
			)
			return nil
		},
	})
}

// IsEnabled reports whether profiling is configured on
func (s *Service) IsEnabled() bool {
	return s.cfg.Pyroscope.Enabled
}

func (s *Service) profileTypes() []pyroscope.ProfileType {
	if len(s.cfg.Pyroscope.ProfileTypes) == 0 {
		return []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileGoroutines,
		}
	}

	var kinds []pyroscope.ProfileType
	for _, name := range s.cfg.Pyroscope.ProfileTypes {
		switch strings.ToLower(name) {
		case "cpu":
			kinds = append(kinds, pyroscope.ProfileCPU)
		case "inuse_objects":
			kinds = append(kinds, pyroscope.ProfileInuseObjects)
		case "alloc_objects":
			kinds = append(kinds, pyroscope.ProfileAllocObjects)
		case "inuse_space":
			kinds = append(kinds, pyroscope.ProfileInuseSpace)
		case "alloc_space":
			kinds = append(kinds, pyroscope.ProfileAllocSpace)
		case "goroutines":
			kinds = append(kinds, pyroscope.ProfileGoroutines)
		case "mutex_count":
			kinds = append(kinds, pyroscope.ProfileMutexCount)
		case "mutex_duration":
			kinds = append(kinds, pyroscope.ProfileMutexDuration)
		case "block_count":
			kinds = append(kinds, pyroscope.ProfileBlockCount)
		case "block_duration":
			kinds = append(kinds, pyroscope.ProfileBlockDuration)
		default:
			s.logger.Warnw("unknown profile type", "type", name)
		}
	}
	return kinds
}

// pyroscope.Logger implementation routing agent logs through zap

func (s *Service) Debugf(format string, args ...interface{}) {
	s.logger.Debugf("[pyroscope] "+format, args...)
}

func (s *Service) Infof(format string, args ...interface{}) {
	s.logger.Infof("[pyroscope] "+format, args...)
}

func (s *Service) Errorf(format string, args ...interface{}) {
	s.logger.Errorf("[pyroscope] "+format, args...)
}
