package gateway

import "sync"

// PublicOrganization はテナントに属さないスーパーユーザーが使用する組織ID。
const PublicOrganization = "public"

// TenantContext は現在のテナント（組織）の解決状態。
type TenantContext struct {
	// OrganizationID は解決済みの組織ID。スーパーユーザーがテナント外で
	// 操作する場合は空文字列のまま Ready になる。
	OrganizationID string
	// Ready はホストアプリがテナントを確定したかどうか。
	// false の間はテナントスコープの呼び出しを送信しない。
	Ready bool
}

// BranchContext は現在選択中の拠点。
type BranchContext struct {
	// BranchID は拠点ID。未選択の場合は空文字列。
	BranchID string
}

// MaintenanceState はクライアントから観測したバックエンドの稼働状態。
type MaintenanceState struct {
	// IsDown はバックエンドが到達不可または縮退中かどうか。
	IsDown bool
	// Message は利用者向けの説明。
	Message string
}

// Registers は送信する全リクエストが参照するテナント・拠点・メンテナンス状態を保持する。
// ログイン、ログアウト、テナント切り替え、拠点切り替えの各フローから書き込まれる。
type Registers struct {
	mu          sync.RWMutex
	tenant      TenantContext
	branch      BranchContext
	maintenance MaintenanceState
}

// SetTenant は組織IDを登録し、テナントを確定済みにする。
func (r *Registers) SetTenant(organizationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenant = TenantContext{OrganizationID: organizationID, Ready: true}
}

// ClearTenant はテナントを未確定に戻す。
// 以降のテナントスコープの呼び出しは SetTenant が呼ばれるまで即座に失敗する。
func (r *Registers) ClearTenant() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenant = TenantContext{}
}

// SetBranch は拠点IDを登録する。
func (r *Registers) SetBranch(branchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branch = BranchContext{BranchID: branchID}
}

// ClearBranch は拠点の選択を解除する。
func (r *Registers) ClearBranch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branch = BranchContext{}
}

// Tenant は現在のテナント状態を返す。
func (r *Registers) Tenant() TenantContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenant
}

// Branch は現在の拠点を返す。
func (r *Registers) Branch() BranchContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.branch
}

// Maintenance は現在のメンテナンス状態を返す。
func (r *Registers) Maintenance() MaintenanceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maintenance
}

// setMaintenance はメンテナンス状態を更新し、変化があった場合に真を返す。
func (r *Registers) setMaintenance(state MaintenanceState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maintenance == state {
		return false
	}
	r.maintenance = state
	return true
}
