package relayerdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/bridgeworks/evm-bridge/pkg/pgutil/migrations"
	"github.com/bridgeworks/evm-bridge/pkg/store/dao"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating validator_signatures table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.ValidatorSignature{}); err != nil {
			return err
		}
		// (source_tx_hash, validator) is the natural key: independent
		// validator instances may each record one signature per deposit.
		if _, err := db.NewCreateIndex().
			Model((*dao.ValidatorSignature)(nil)).
			Index("idx_validator_signatures_tx_validator").
			Column("source_tx_hash", "validator").
			Unique().
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		return mghelper.CreateIndexes(ctx, db, "validator_signatures", "source_tx_hash")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping validator_signatures table...")
		return mghelper.DropTables(ctx, db, &dao.ValidatorSignature{})
	})
}
