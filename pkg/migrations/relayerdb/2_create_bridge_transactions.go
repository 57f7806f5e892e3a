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
		log.Println("creating bridge_transactions table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.BridgeTransaction{}); err != nil {
			return err
		}
		if _, err := db.NewCreateIndex().
			Model((*dao.BridgeTransaction)(nil)).
			Index("idx_bridge_transactions_source_chain_nonce").
			Column("source_chain", "nonce").
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		// target_tx_hash stays NULL until completion, so uniqueness only bites
		// on real submitted hashes.
		if _, err := db.NewCreateIndex().
			Model((*dao.BridgeTransaction)(nil)).
			Index("idx_bridge_transactions_target_tx_hash").
			Column("target_tx_hash").
			Unique().
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.BridgeTransaction{}, "status", "source_chain", "target_chain")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping bridge_transactions table...")
		return mghelper.DropTables(ctx, db, &dao.BridgeTransaction{})
	})
}
