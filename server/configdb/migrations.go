package configdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE camera(
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			camera_id TEXT NOT NULL,
			camera_name TEXT NOT NULL,
			rtsp_url TEXT NOT NULL,
			device_id TEXT,
			created_at INT NOT NULL
		);
		CREATE UNIQUE INDEX idx_camera_user_id_camera_id ON camera (user_id, camera_id);

		CREATE TABLE agent(
			id INTEGER PRIMARY KEY,
			agent_id TEXT NOT NULL,
			task_name TEXT NOT NULL,
			task_type TEXT NOT NULL,
			camera_id TEXT NOT NULL,
			source_uri TEXT NOT NULL,
			model_ids TEXT,
			fps INT NOT NULL,
			run_mode TEXT NOT NULL,
			rules TEXT,
			status TEXT NOT NULL,
			start_at INT NOT NULL,
			end_at INT NOT NULL,
			created_at INT NOT NULL
		);
		CREATE UNIQUE INDEX idx_agent_agent_id ON agent (agent_id);
		CREATE INDEX idx_agent_camera_id ON agent (camera_id);

		CREATE TABLE variable(
			key TEXT PRIMARY KEY,
			value TEXT
		);

	`))

	return migs
}
