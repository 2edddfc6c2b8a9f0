package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"Swapper-Chain/deploy/migrations"
	"Swapper-Chain/pkg/logger"
)

var embeddedMigrations fs.FS = migrations.Files

const createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`

type migrationFile struct {
	version    string
	name       string
	statements []string
}

// runMigrations 执行嵌入的 swap_jobs 迁移，返回本次新应用的版本。
func runMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	return applyMigrations(ctx, db, embeddedMigrations)
}

// applyMigrations 按版本顺序执行 fsys 中尚未应用的迁移，每个文件在一个事务中完成。
func applyMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) ([]string, error) {
	log := logger.Named("storage")
	if _, err := db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return nil, fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	applied, err := loadAppliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	files, err := loadMigrationFiles(fsys)
	if err != nil {
		return nil, err
	}

	var versions []string
	for _, migration := range files {
		if _, ok := applied[migration.version]; ok {
			continue
		}
		start := time.Now()
		if err := applyMigration(ctx, db, migration); err != nil {
			log.Error("数据库迁移失败", slog.String("version", migration.version), slog.String("file", migration.name), slog.Any("error", err))
			return versions, err
		}
		log.Info("已应用数据库迁移",
			slog.String("version", migration.version),
			slog.String("file", migration.name),
			slog.Int("statements", len(migration.statements)),
			slog.Duration("elapsed", time.Since(start)),
		)
		versions = append(versions, migration.version)
	}
	if len(versions) == 0 {
		log.Debug("数据库结构已是最新", slog.Int("known", len(files)))
	}
	return versions, nil
}

func loadAppliedVersions(ctx context.Context, db *sql.DB) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration migrationFile) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}

	for _, stmt := range migration.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("执行迁移 %s 失败: %w", migration.name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, migration.version, time.Now().Unix()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

// loadMigrationFiles 读取 *.sql 文件。同一版本只能出现一次，否则后一个文件会被静默跳过。
func loadMigrationFiles(fsys fs.FS) ([]migrationFile, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	seen := make(map[string]string, len(names))
	var files []migrationFile
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		version := parseMigrationVersion(name)
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移 %s 与 %s 的版本 %s 重复", name, prev, version)
		}
		seen[version] = name
		files = append(files, migrationFile{version: version, name: name, statements: statements})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// splitSQLStatements 按分号切分语句，并去掉整行的 "--" 注释。
func splitSQLStatements(content string) []string {
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var statements []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func parseMigrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	if dot := strings.IndexRune(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}
