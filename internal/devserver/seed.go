package devserver

import (
	"context"
	"fmt"

	"github.com/nao1215/hrgate/pkg/middleware"
	"golang.org/x/crypto/bcrypt"
)

// デモ用アカウントのパスワード。
const (
	DemoPasswordAlice = "alice-pass"
	DemoPasswordBob   = "bob-pass"
	DemoPasswordAdmin = "admin-pass"
)

// デモデータのID。
const (
	OrgAcme          = "org-acme"
	OrgGlobex        = "org-globex"
	BranchAcmeTokyo  = "br-acme-tokyo"
	BranchAcmeOsaka  = "br-acme-osaka"
	BranchGlobexHQ   = "br-globex-hq"
	EmployeeAcmeSato = "emp-acme-sato"
)

// seed はユーザーが1人もいない場合にデモデータを投入する。
//
//   - alice: Acme（契約中）の一般ユーザー。東京拠点を選択済み。
//   - bob: Globex（契約切れ）の一般ユーザー。
//   - admin: スーパーユーザー。組織に所属しない。
func seed(ctx context.Context, st *store, cost int) error {
	n, err := st.countUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	orgs := []middleware.Organization{
		{ID: OrgAcme, Name: "Acme", Active: true, SubscriptionActive: true},
		{ID: OrgGlobex, Name: "Globex", Active: true, SubscriptionActive: false},
	}
	for _, org := range orgs {
		if err := st.createOrganization(ctx, org); err != nil {
			return err
		}
	}

	branches := []branch{
		{ID: BranchAcmeTokyo, OrganizationID: OrgAcme, Name: "東京本社", Code: "TKY", Primary: true},
		{ID: BranchAcmeOsaka, OrganizationID: OrgAcme, Name: "大阪支社", Code: "OSA"},
		{ID: BranchGlobexHQ, OrganizationID: OrgGlobex, Name: "Globex本社", Code: "HQ", Primary: true},
	}
	for _, b := range branches {
		if err := st.createBranch(ctx, b); err != nil {
			return err
		}
	}

	users := []struct {
		user
		password string
	}{
		{user{ID: "user-alice", Username: "alice", Email: "alice@acme.example", OrganizationID: OrgAcme, BranchID: BranchAcmeTokyo}, DemoPasswordAlice},
		{user{ID: "user-bob", Username: "bob", Email: "bob@globex.example", OrganizationID: OrgGlobex, BranchID: BranchGlobexHQ}, DemoPasswordBob},
		{user{ID: "user-admin", Username: "admin", Email: "admin@hrgate.example", Superuser: true}, DemoPasswordAdmin},
	}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), cost)
		if err != nil {
			return fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
		}
		u.PasswordHash = string(hash)
		if err := st.createUser(ctx, u.user); err != nil {
			return err
		}
	}

	employees := []employee{
		{ID: EmployeeAcmeSato, BranchID: BranchAcmeTokyo, Name: "佐藤 花子", Email: "sato@acme.example", Position: "人事部長", HiredOn: "2018-04-01"},
		{ID: "emp-acme-suzuki", BranchID: BranchAcmeTokyo, Name: "鈴木 一郎", Email: "suzuki@acme.example", Position: "エンジニア", HiredOn: "2021-10-01"},
		{ID: "emp-acme-tanaka", BranchID: BranchAcmeOsaka, Name: "田中 次郎", Email: "tanaka@acme.example", Position: "営業", HiredOn: "2020-07-15"},
		{ID: "emp-globex-smith", BranchID: BranchGlobexHQ, Name: "John Smith", Email: "smith@globex.example", Position: "Manager", HiredOn: "2019-01-07"},
	}
	for i := range employees {
		orgID := OrgAcme
		if employees[i].BranchID == BranchGlobexHQ {
			orgID = OrgGlobex
		}
		if err := st.createEmployee(ctx, orgID, &employees[i]); err != nil {
			return err
		}
	}

	leaves := []leaveRequest{
		{ID: "leave-1", BranchID: BranchAcmeTokyo, EmployeeID: "emp-acme-suzuki", LeaveType: "annual", StartDate: "2025-05-01", EndDate: "2025-05-02", Status: "approved"},
		{ID: "leave-2", BranchID: BranchAcmeOsaka, EmployeeID: "emp-acme-tanaka", LeaveType: "sick", StartDate: "2025-05-12", EndDate: "2025-05-12"},
	}
	for i := range leaves {
		if err := st.createLeaveRequest(ctx, OrgAcme, &leaves[i]); err != nil {
			return err
		}
	}

	payrolls := []payrollRun{
		{ID: "payroll-2025-03", Period: "2025-03", TotalAmount: 1250000, Status: "paid"},
		{ID: "payroll-2025-04", Period: "2025-04", TotalAmount: 1280000, Status: "processed"},
	}
	for i := range payrolls {
		if err := st.createPayrollRun(ctx, OrgAcme, &payrolls[i]); err != nil {
			return err
		}
	}
	return nil
}
