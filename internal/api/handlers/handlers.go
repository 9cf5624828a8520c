package handlers

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"nftrarity/internal/service"
)

// Handlers handles HTTP requests for the rarity and staking API
type Handlers struct {
	ranking  *service.RankingService
	accounts *service.AccountService
	staking  *service.StakingService
	health   *service.HealthService

	validator     *validator.Validate
	sessionCookie string
	logger        *slog.Logger
}

// Deps are the services behind the API
type Deps struct {
	Ranking       *service.RankingService
	Accounts      *service.AccountService
	Staking       *service.StakingService
	Health        *service.HealthService
	SessionCookie string
	Logger        *slog.Logger
}

// New creates the API handlers
func New(d Deps) *Handlers {
	cookie := d.SessionCookie
	if cookie == "" {
		cookie = "sid"
	}
	return &Handlers{
		ranking:       d.Ranking,
		accounts:      d.Accounts,
		staking:       d.Staking,
		health:        d.Health,
		validator:     validator.New(),
		sessionCookie: cookie,
		logger:        d.Logger,
	}
}

// Register mounts every route under r, typically the /api/v1 group
func (h *Handlers) Register(r fiber.Router) {
	r.Get("/health", h.HealthCheck)

	r.Get("/rarity/:tokenId", h.GetRarity)
	r.Get("/items/:tokenId", h.GetItem)
	r.Get("/traits", h.GetTraits)

	lb := r.Group("/leaderboard")
	lb.Get("/top-items", h.TopItems)
	lb.Get("/top-users", h.TopUsers)

	a := r.Group("/auth")
	a.Get("/nonce", h.IssueNonce)
	a.Post("/verify", h.VerifySignature)
	a.Post("/logout", h.Logout)

	authed := h.RequireSession()
	r.Get("/user", authed, h.GetCurrentUser)
	r.Get("/user/staked", authed, h.GetStakedItems)
	r.Post("/stake", authed, h.Stake)
	r.Post("/unstake", authed, h.Unstake)
}
