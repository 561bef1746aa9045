package devserver

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nao1215/hrgate/pkg/middleware"
	"github.com/nao1215/hrgate/pkg/migration"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// errNotFound は行が存在しないことを表す。
var errNotFound = errors.New("見つかりません")

// store は開発用バックエンドのデータアクセス層。
type store struct {
	db *sql.DB
}

// openStore はSQLiteデータベースを開いてマイグレーションを適用する。
func openStore(ctx context.Context, dsn string, logger *zap.Logger) (*store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := migration.New(db, logger).Up(ctx, migrations, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) close() error {
	return s.db.Close()
}

// user はusersテーブルの1行。
type user struct {
	ID             string
	Username       string
	Email          string
	PasswordHash   string
	OrganizationID string
	BranchID       string
	Superuser      bool
}

func (u *user) identity() middleware.Identity {
	return middleware.Identity{
		UserID:         u.ID,
		Username:       u.Username,
		OrganizationID: u.OrganizationID,
		Superuser:      u.Superuser,
	}
}

// branch はbranchesテーブルの1行。
type branch struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Code           string `json:"code"`
	Primary        bool   `json:"is_primary"`
}

// employee はemployeesテーブルの1行。
type employee struct {
	ID       string `json:"id"`
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Position string `json:"position"`
	HiredOn  string `json:"hired_on"`
}

// leaveRequest はleave_requestsテーブルの1行。
type leaveRequest struct {
	ID         string `json:"id"`
	BranchID   string `json:"branch_id"`
	EmployeeID string `json:"employee_id"`
	LeaveType  string `json:"leave_type"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Status     string `json:"status"`
}

// payrollRun はpayroll_runsテーブルの1行。
type payrollRun struct {
	ID          string `json:"id"`
	Period      string `json:"period"`
	TotalAmount int64  `json:"total_amount"`
	Status      string `json:"status"`
}

// organization はIDから組織を取得する。middleware.OrganizationLookup として使用する。
func (s *store) organization(ctx context.Context, id string) (*middleware.Organization, error) {
	var (
		org                        middleware.Organization
		active, subscriptionActive int
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, active, subscription_active FROM organizations WHERE id = ?", id,
	).Scan(&org.ID, &org.Name, &active, &subscriptionActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, middleware.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("組織の取得に失敗: %w", err)
	}
	org.Active = active != 0
	org.SubscriptionActive = subscriptionActive != 0
	return &org, nil
}

func (s *store) createOrganization(ctx context.Context, org middleware.Organization) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO organizations (id, name, active, subscription_active) VALUES (?, ?, ?, ?)",
		org.ID, org.Name, boolToInt(org.Active), boolToInt(org.SubscriptionActive),
	)
	if err != nil {
		return fmt.Errorf("組織の作成に失敗: %w", err)
	}
	return nil
}

func (s *store) deleteOrganization(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM organizations WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("組織の削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *store) createBranch(ctx context.Context, b branch) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO branches (id, organization_id, name, code, is_primary) VALUES (?, ?, ?, ?, ?)",
		b.ID, b.OrganizationID, b.Name, b.Code, boolToInt(b.Primary),
	)
	if err != nil {
		return fmt.Errorf("拠点の作成に失敗: %w", err)
	}
	return nil
}

// branches は組織の拠点を本社拠点から順に返す。
func (s *store) branches(ctx context.Context, organizationID string) ([]branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, code, is_primary FROM branches
		WHERE organization_id = ? ORDER BY is_primary DESC, code
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("拠点一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []branch{}
	for rows.Next() {
		var (
			b       branch
			primary int
		)
		if err := rows.Scan(&b.ID, &b.OrganizationID, &b.Name, &b.Code, &primary); err != nil {
			return nil, fmt.Errorf("拠点の読み取りに失敗: %w", err)
		}
		b.Primary = primary != 0
		result = append(result, b)
	}
	return result, rows.Err()
}

// branch は組織に属する拠点を取得する。他の組織の拠点は errNotFound になる。
func (s *store) branch(ctx context.Context, organizationID, id string) (*branch, error) {
	var (
		b       branch
		primary int
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, organization_id, name, code, is_primary FROM branches WHERE id = ? AND organization_id = ?",
		id, organizationID,
	).Scan(&b.ID, &b.OrganizationID, &b.Name, &b.Code, &primary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("拠点の取得に失敗: %w", err)
	}
	b.Primary = primary != 0
	return &b, nil
}

func (s *store) createUser(ctx context.Context, u user) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, organization_id, branch_id, is_superuser)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.OrganizationID, u.BranchID, boolToInt(u.Superuser))
	if err != nil {
		return fmt.Errorf("ユーザーの作成に失敗: %w", err)
	}
	return nil
}

const userColumns = "id, username, email, password_hash, organization_id, branch_id, is_superuser"

func scanUser(row *sql.Row) (*user, error) {
	var (
		u         user
		superuser int
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.OrganizationID, &u.BranchID, &superuser)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	u.Superuser = superuser != 0
	return &u, nil
}

func (s *store) userByID(ctx context.Context, id string) (*user, error) {
	return scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

func (s *store) userByUsername(ctx context.Context, username string) (*user, error) {
	return scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

func (s *store) countUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("ユーザー数の取得に失敗: %w", err)
	}
	return n, nil
}

func (s *store) deleteUser(ctx context.Context, username string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return false, fmt.Errorf("ユーザーの削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *store) setUserBranch(ctx context.Context, userID, branchID string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET branch_id = ? WHERE id = ?", branchID, userID); err != nil {
		return fmt.Errorf("拠点の切り替えに失敗: %w", err)
	}
	return nil
}

// blacklist はリフレッシュトークンを失効させる。既に失効済みの場合は false を返す。
func (s *store) blacklist(ctx context.Context, jti, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO token_blacklist (jti, user_id) VALUES (?, ?) ON CONFLICT (jti) DO NOTHING",
		jti, userID,
	)
	if err != nil {
		return false, fmt.Errorf("トークンの失効に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *store) blacklisted(ctx context.Context, jti string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM token_blacklist WHERE jti = ?", jti).Scan(&n); err != nil {
		return false, fmt.Errorf("失効リストの確認に失敗: %w", err)
	}
	return n > 0, nil
}

func (s *store) createEmployee(ctx context.Context, organizationID string, e *employee) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, organization_id, branch_id, name, email, position, hired_on)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, organizationID, e.BranchID, e.Name, e.Email, e.Position, e.HiredOn)
	if err != nil {
		return fmt.Errorf("従業員の作成に失敗: %w", err)
	}
	return nil
}

// employees は組織の従業員を返す。branchIDが空でなければその拠点に絞り込む。
func (s *store) employees(ctx context.Context, organizationID, branchID string) ([]employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, name, email, position, hired_on FROM employees
		WHERE organization_id = ? AND (? = '' OR branch_id = ?)
		ORDER BY name, id
	`, organizationID, branchID, branchID)
	if err != nil {
		return nil, fmt.Errorf("従業員一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []employee{}
	for rows.Next() {
		var e employee
		if err := rows.Scan(&e.ID, &e.BranchID, &e.Name, &e.Email, &e.Position, &e.HiredOn); err != nil {
			return nil, fmt.Errorf("従業員の読み取りに失敗: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *store) employee(ctx context.Context, organizationID, id string) (*employee, error) {
	var e employee
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, name, email, position, hired_on FROM employees
		WHERE organization_id = ? AND id = ?
	`, organizationID, id).Scan(&e.ID, &e.BranchID, &e.Name, &e.Email, &e.Position, &e.HiredOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("従業員の取得に失敗: %w", err)
	}
	return &e, nil
}

func (s *store) createLeaveRequest(ctx context.Context, organizationID string, l *leaveRequest) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = "pending"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_requests (id, organization_id, branch_id, employee_id, leave_type, start_date, end_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, organizationID, l.BranchID, l.EmployeeID, l.LeaveType, l.StartDate, l.EndDate, l.Status)
	if err != nil {
		return fmt.Errorf("休暇申請の作成に失敗: %w", err)
	}
	return nil
}

func (s *store) leaveRequests(ctx context.Context, organizationID, branchID string) ([]leaveRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, employee_id, leave_type, start_date, end_date, status FROM leave_requests
		WHERE organization_id = ? AND (? = '' OR branch_id = ?)
		ORDER BY start_date, id
	`, organizationID, branchID, branchID)
	if err != nil {
		return nil, fmt.Errorf("休暇申請一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []leaveRequest{}
	for rows.Next() {
		var l leaveRequest
		if err := rows.Scan(&l.ID, &l.BranchID, &l.EmployeeID, &l.LeaveType, &l.StartDate, &l.EndDate, &l.Status); err != nil {
			return nil, fmt.Errorf("休暇申請の読み取りに失敗: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (s *store) createPayrollRun(ctx context.Context, organizationID string, p *payrollRun) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payroll_runs (id, organization_id, period, total_amount, status) VALUES (?, ?, ?, ?, ?)",
		p.ID, organizationID, p.Period, p.TotalAmount, p.Status,
	)
	if err != nil {
		return fmt.Errorf("給与計算の作成に失敗: %w", err)
	}
	return nil
}

// payrollRuns は組織の給与計算を新しい期間から順に返す。給与計算は拠点で絞り込まない。
func (s *store) payrollRuns(ctx context.Context, organizationID string) ([]payrollRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, period, total_amount, status FROM payroll_runs
		WHERE organization_id = ? ORDER BY period DESC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("給与計算一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []payrollRun{}
	for rows.Next() {
		var p payrollRun
		if err := rows.Scan(&p.ID, &p.Period, &p.TotalAmount, &p.Status); err != nil {
			return nil, fmt.Errorf("給与計算の読み取りに失敗: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
