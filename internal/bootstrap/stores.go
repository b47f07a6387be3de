package bootstrap

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/eleven-am/voice-relay/internal/apikey"
	"github.com/eleven-am/voice-relay/internal/journal"
)

func ProvideAPIKeyStore(db *gorm.DB, clk clock.Clock, logger *slog.Logger) *apikey.Store {
	if db == nil {
		return nil
	}
	return apikey.NewStore(db, clk, logger)
}

func ProvideJournal(lc fx.Lifecycle, db *gorm.DB, clk clock.Clock, logger *slog.Logger) *journal.Journal {
	if db == nil {
		return nil
	}
	j := journal.New(db, clk, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return j.Close()
		},
	})
	return j
}

func RunMigrations(keys *apikey.Store, j *journal.Journal) error {
	if keys != nil {
		if err := keys.Migrate(); err != nil {
			return err
		}
	}
	if j != nil {
		return j.Migrate()
	}
	return nil
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideAPIKeyStore,
		ProvideJournal,
	),
	fx.Invoke(RunMigrations),
)
