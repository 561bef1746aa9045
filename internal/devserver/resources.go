package devserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/hrgate/pkg/middleware"
	"go.uber.org/zap"
)

// listResponse はDRFのページング形式に合わせた一覧応答。
func listResponse[T any](items []T) gin.H {
	return gin.H{
		"count":    len(items),
		"next":     nil,
		"previous": nil,
		"results":  items,
	}
}

// branchScope は X-Branch-ID ヘッダーの拠点が対象組織に属することを確認して返す。
// ヘッダーが無い場合は空文字列を返し、組織全体を対象とする。
func (s *Server) branchScope(c *gin.Context) (string, bool) {
	id := c.GetHeader(middleware.HeaderBranchID)
	if id == "" {
		return "", true
	}
	org := middleware.GetOrganization(c)
	if _, err := s.store.branch(c.Request.Context(), org.ID, id); err != nil {
		if errors.Is(err, errNotFound) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "invalid_branch", "message": "拠点が組織に属していません"},
			})
			return "", false
		}
		s.logger.Error("拠点取得エラー", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "拠点の取得に失敗しました"})
		return "", false
	}
	return id, true
}

// handleListEmployees は従業員一覧を返すハンドラを返す。
func (s *Server) handleListEmployees() gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID, ok := s.branchScope(c)
		if !ok {
			return
		}
		items, err := s.store.employees(c.Request.Context(), middleware.GetOrganization(c).ID, branchID)
		if err != nil {
			s.logger.Error("従業員一覧取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "従業員一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, listResponse(items))
	}
}

// handleCreateEmployee は従業員を登録するハンドラを返す。拠点は X-Branch-ID ヘッダーで決まる。
func (s *Server) handleCreateEmployee() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Email    string `json:"email"`
			Position string `json:"position"`
			HiredOn  string `json:"hired_on"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"name": []string{"This field is required."}})
			return
		}
		branchID, ok := s.branchScope(c)
		if !ok {
			return
		}
		if branchID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "branch_required", "message": "登録先の拠点を指定してください"},
			})
			return
		}

		e := employee{
			BranchID: branchID,
			Name:     req.Name,
			Email:    req.Email,
			Position: req.Position,
			HiredOn:  req.HiredOn,
		}
		if err := s.store.createEmployee(c.Request.Context(), middleware.GetOrganization(c).ID, &e); err != nil {
			s.logger.Error("従業員登録エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "従業員の登録に失敗しました"})
			return
		}
		c.JSON(http.StatusCreated, e)
	}
}

// handleGetEmployee は従業員を1件返すハンドラを返す。他の組織の従業員は存在しないものとして扱う。
func (s *Server) handleGetEmployee() gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := s.store.employee(c.Request.Context(), middleware.GetOrganization(c).ID, c.Param("id"))
		if errors.Is(err, errNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
			return
		}
		if err != nil {
			s.logger.Error("従業員取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "従業員の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, e)
	}
}

// handleListLeave は休暇申請一覧を返すハンドラを返す。
func (s *Server) handleListLeave() gin.HandlerFunc {
	return func(c *gin.Context) {
		branchID, ok := s.branchScope(c)
		if !ok {
			return
		}
		items, err := s.store.leaveRequests(c.Request.Context(), middleware.GetOrganization(c).ID, branchID)
		if err != nil {
			s.logger.Error("休暇申請一覧取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "休暇申請一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, listResponse(items))
	}
}

// handleCreateLeave は休暇申請を登録するハンドラを返す。
func (s *Server) handleCreateLeave() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			EmployeeID string `json:"employee_id" binding:"required"`
			LeaveType  string `json:"leave_type" binding:"required"`
			StartDate  string `json:"start_date" binding:"required"`
			EndDate    string `json:"end_date" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "employee_id, leave_type, start_date, end_date は必須です"})
			return
		}
		ctx := c.Request.Context()
		orgID := middleware.GetOrganization(c).ID

		emp, err := s.store.employee(ctx, orgID, req.EmployeeID)
		if errors.Is(err, errNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"employee_id": []string{"Invalid pk - object does not exist."}})
			return
		}
		if err != nil {
			s.logger.Error("従業員取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "従業員の取得に失敗しました"})
			return
		}

		l := leaveRequest{
			BranchID:   emp.BranchID,
			EmployeeID: emp.ID,
			LeaveType:  req.LeaveType,
			StartDate:  req.StartDate,
			EndDate:    req.EndDate,
		}
		if err := s.store.createLeaveRequest(ctx, orgID, &l); err != nil {
			s.logger.Error("休暇申請登録エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "休暇申請の登録に失敗しました"})
			return
		}
		c.JSON(http.StatusCreated, l)
	}
}

// handleListPayroll は給与計算一覧を返すハンドラを返す。
func (s *Server) handleListPayroll() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := s.store.payrollRuns(c.Request.Context(), middleware.GetOrganization(c).ID)
		if err != nil {
			s.logger.Error("給与計算一覧取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "給与計算一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, listResponse(items))
	}
}
