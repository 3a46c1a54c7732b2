package api

import (
	"log/slog"

	"github.com/SlpAus/agm-voting-backend/internal/ballot"
	"github.com/SlpAus/agm-voting-backend/internal/handoff"
	"github.com/SlpAus/agm-voting-backend/internal/identity"
	"github.com/SlpAus/agm-voting-backend/internal/motion"
	"github.com/SlpAus/agm-voting-backend/internal/realtime"
	"github.com/SlpAus/agm-voting-backend/internal/staff"
	"github.com/SlpAus/agm-voting-backend/internal/user"
	"github.com/gin-gonic/gin"
)

// Handlers 汇总了注册路由所需的全部处理器
type Handlers struct {
	Identity  *identity.Handler
	Ballot    *ballot.Handler
	Motion    *motion.Handler
	Staff     *staff.Handler
	Realtime  *realtime.Endpoints
	Resolver  *user.Resolver
	Signature []byte
	Logger    *slog.Logger
}

// SetupRoutes 注册项目的所有API路由
func SetupRoutes(router *gin.Engine, h Handlers) {
	requireStaff := h.Staff.RequireStaff()
	participant := h.Resolver.Middleware()

	// 投票箱页面，携带 ?handoff= 时兑换跳转码
	router.GET("/ballot/:uuid", h.Ballot.Enter)

	api := router.Group("/api")
	{
		// 身份验证服务(CIS)
		api.POST("/verify", h.Identity.Verify)

		// 服务间调用，只接受带正确签名的请求
		s2s := api.Group("", handoff.RequireSignature(h.Signature, h.Logger))
		{
			s2s.POST("/redeem", h.Identity.Redeem)
			s2s.POST("/mark-spent", h.Identity.MarkSpent)
		}

		// 投票箱(BBS)
		api.POST("/cast", h.Ballot.Cast)

		api.POST("/staff/login", h.Staff.Login)

		// 活动相关的路由组 /api/events/:uuid
		events := api.Group("/events/:uuid")
		{
			events.POST("/register", h.Identity.Register)
			events.GET("/motions/current", participant, h.Motion.Current)
			events.GET("/presence", h.Motion.Presence)

			managed := events.Group("", requireStaff)
			{
				managed.GET("/voter-status", h.Identity.VoterStatus)
				managed.GET("/results", h.Ballot.Results)
				managed.GET("/cvr.csv", h.Ballot.ExportCVR)
				managed.POST("/motions", h.Motion.Create)
				managed.GET("/motions", h.Motion.List)
				managed.GET("/tallies", h.Motion.Tallies)
			}
		}

		// 动议相关的路由组 /api/motions/:id
		motions := api.Group("/motions/:id")
		{
			motions.POST("/vote", h.Motion.Scope, participant, h.Motion.Vote)

			managed := motions.Group("", requireStaff)
			{
				managed.POST("/open", h.Motion.Open)
				managed.POST("/close", h.Motion.Close)
				managed.POST("/preview", h.Motion.Preview)
				managed.POST("/reveal", h.Motion.Reveal)
				managed.POST("/hide", h.Motion.Hide)
				managed.POST("/reset", h.Motion.Reset)
				managed.POST("/timer", h.Motion.Timer)
				managed.POST("/reorder", h.Motion.Reorder)
			}
		}

		api.POST("/admin/voters/:id/approve", requireStaff, h.Identity.Approve)
	}

	// 动议频道
	ws := router.Group("/ws/motions/:uuid")
	{
		ws.GET("/voter", h.Realtime.Voter)
		ws.GET("/admin", h.Realtime.Admin)
	}
}
