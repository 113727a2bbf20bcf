package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"geotrail/syncd/internal/filter"
	"geotrail/syncd/internal/logging"
)

// LiveThresholds is a filter.ThresholdSource whose values can be replaced at runtime.
type LiveThresholds struct {
	current atomic.Pointer[filter.Thresholds]
}

func NewLiveThresholds(th filter.Thresholds) *LiveThresholds {
	l := &LiveThresholds{}
	l.Set(th)
	return l
}

func (l *LiveThresholds) Thresholds() filter.Thresholds {
	return *l.current.Load()
}

func (l *LiveThresholds) Set(th filter.Thresholds) {
	l.current.Store(&th)
}

// FilterThresholds converts the config section into filter thresholds.
func (t ThresholdConfig) FilterThresholds() filter.Thresholds {
	return filter.Thresholds{
		MinInterval:       t.Time,
		MinDistanceMeters: t.DistanceMeters,
		MaxAccuracyMeters: t.AccuracyMeters,
	}
}

// WatchThresholds re-reads the threshold section whenever the config file changes.
// Invalid edits are logged and ignored.
func WatchThresholds(v *viper.Viper, live *LiveThresholds) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var th ThresholdConfig
		if err := v.UnmarshalKey("thresholds", &th); err != nil {
			logging.Error("Failed to reload thresholds", "file", e.Name, "error", err)
			return
		}
		if th.Time < 0 || th.DistanceMeters < 0 {
			logging.Warn("Ignoring negative thresholds from config file", "file", e.Name)
			return
		}
		live.Set(th.FilterThresholds())
		logging.Info("Thresholds reloaded",
			"file", e.Name,
			"time", th.Time.String(),
			"distance_meters", th.DistanceMeters,
			"accuracy_meters", th.AccuracyMeters,
		)
	})
	v.WatchConfig()
}
