package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/job"
)

const jobColumns = `id, chain, caller, token_in, token_out, amount_in, min_amount_out, recipient, deadline, metadata,
        status, attempts, max_retries, last_error, error_code, result, created_at, updated_at`

// JobStore 使用 MySQL 记录 swap 任务状态。
type JobStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewJobStore 建立连接池并执行嵌入的迁移。
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return NewJobStoreWithDB(db), nil
}

// NewJobStoreWithDB 包装已有连接，不执行迁移。
func NewJobStoreWithDB(db *sql.DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

// Create 插入新的任务记录。
func (s *JobStore) Create(ctx context.Context, j *job.Job) error {
	if j == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(j.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := s.now().Unix()
	if j.CreatedAt == 0 {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	metadata, err := marshalJSON(j.Metadata, len(j.Metadata) == 0)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务 metadata 失败")
	}

	const stmt = `INSERT INTO swap_jobs
        (id, chain, caller, token_in, token_out, amount_in, min_amount_out, recipient, deadline, metadata,
        status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		j.ID,
		j.Chain,
		j.Caller,
		j.TokenIn,
		j.TokenOut,
		j.AmountIn,
		j.MinAmountOut,
		j.Recipient,
		j.Deadline,
		metadata,
		string(j.Status),
		j.Attempts,
		j.MaxRetries,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return job.ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *JobStore) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM swap_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return j, nil
}

// Claim 将 pending 任务标记为运行中并返回最新状态。
func (s *JobStore) Claim(ctx context.Context, id string) (*job.Job, error) {
	const stmt = `UPDATE swap_jobs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, stmt,
		string(job.StatusRunning),
		s.now().Unix(),
		id,
		string(job.StatusPending),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return current, nil
	}
	switch {
	case current.Status == job.StatusSucceeded:
		return current, job.ErrJobCompleted
	case current.Status == job.StatusFailed, current.Attempts >= current.MaxRetries:
		return current, job.ErrJobExhausted
	default:
		return current, job.ErrJobConflict
	}
}

// MarkSucceeded 写入 swap 结果。
func (s *JobStore) MarkSucceeded(ctx context.Context, id string, result job.Result) error {
	encoded, err := marshalJSON(result, false)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码任务结果失败")
	}
	const stmt = `UPDATE swap_jobs SET status = ?, result = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(job.StatusSucceeded), encoded, s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// MarkFailed 记录失败原因，非终止失败把任务放回 pending。
func (s *JobStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE swap_jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	status := job.StatusPending
	if terminal {
		status = job.StatusFailed
	}
	res, err := s.db.ExecContext(ctx, stmt, string(status), lastError, string(code), s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败状态出错")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// List 返回符合过滤条件的任务。
func (s *JobStore) List(ctx context.Context, opts job.ListOptions) ([]*job.Job, error) {
	opts.Normalize()

	query := `SELECT ` + jobColumns + ` FROM swap_jobs`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == job.SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*job.Job, 0, opts.Limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return jobs, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *JobStore) Stats(ctx context.Context, opts job.ListOptions) (job.Stats, error) {
	opts.Normalize()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM swap_jobs`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{
		string(job.StatusPending),
		string(job.StatusRunning),
		string(job.StatusSucceeded),
		string(job.StatusFailed),
	}
	args = append(args, filterArgs...)

	var stats job.Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return job.Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *JobStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j         job.Job
		status    string
		metadata  sql.NullString
		lastError sql.NullString
		result    sql.NullString
	)
	if err := row.Scan(
		&j.ID,
		&j.Chain,
		&j.Caller,
		&j.TokenIn,
		&j.TokenOut,
		&j.AmountIn,
		&j.MinAmountOut,
		&j.Recipient,
		&j.Deadline,
		&metadata,
		&status,
		&j.Attempts,
		&j.MaxRetries,
		&lastError,
		&j.ErrorCode,
		&result,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	j.LastError = lastError.String
	if metadata.Valid && strings.TrimSpace(metadata.String) != "" {
		if err := json.Unmarshal([]byte(metadata.String), &j.Metadata); err != nil {
			return nil, fmt.Errorf("解析任务 metadata 失败: %w", err)
		}
	}
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var decoded job.Result
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, fmt.Errorf("解析任务结果失败: %w", err)
		}
		j.Result = &decoded
	}
	return &j, nil
}

func marshalJSON(value any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func buildFilterClause(opts job.ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Chain != "" {
		conditions = append(conditions, "chain = ?")
		args = append(args, opts.Chain)
	}
	if opts.Caller != "" {
		conditions = append(conditions, "LOWER(caller) = ?")
		args = append(args, opts.Caller)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR token_in LIKE ? OR token_out LIKE ? OR recipient LIKE ? OR last_error LIKE ? OR result LIKE ?)")
		for i := 0; i < 6; i++ {
			args = append(args, pattern)
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ job.Store = (*JobStore)(nil)
