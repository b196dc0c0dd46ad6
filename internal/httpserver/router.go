package httpserver

import (
	"net/http"

	"simcex/internal/announcements"
	"simcex/internal/auth"
	"simcex/internal/funds"
	"simcex/internal/httputil"
	"simcex/internal/markets"
	"simcex/internal/orders"
	"simcex/internal/portfolio"
	"simcex/internal/positions"
	"simcex/internal/promos"
	"simcex/internal/wallet"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	AuthHandler         *auth.Handler
	FundsHandler        *funds.Handler
	MarketHandler       *markets.Handler
	TickerWS            *markets.TickerWS
	OrderHandler        *orders.Handler
	PositionHandler     *positions.Handler
	PortfolioHandler    *portfolio.Handler
	WalletHandler       *wallet.Handler
	PromoHandler        *promos.Handler
	AnnouncementHandler *announcements.Handler
	AuthService         *auth.Service
	InternalToken       string
}

// user adapts a handler that needs the authenticated user into http.HandlerFunc.
func user(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID)
	}
}

// userParam is user plus one chi URL parameter.
func userParam(param string, fn func(http.ResponseWriter, *http.Request, string, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID, chi.URLParam(r, param))
	}
}

func param(name string, fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, chi.URLParam(r, name))
	}
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS middleware for development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Token")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})

		r.Get("/markets", d.MarketHandler.List)
		r.Get("/markets/ws", d.TickerWS.ServeHTTP)
		r.Get("/markets/{symbol}", d.MarketHandler.Get)
		r.Get("/markets/{symbol}/candles", d.MarketHandler.Candles)
		r.Get("/announcements", d.AnnouncementHandler.ListActive)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/me", user(d.AuthHandler.Me))
			r.Get("/balances", user(d.FundsHandler.Balances))
			r.Get("/portfolio", user(d.PortfolioHandler.Snapshot))

			r.Post("/orders", user(d.OrderHandler.Create))
			r.Get("/orders", user(d.OrderHandler.List))
			r.Get("/orders/{id}", userParam("id", d.OrderHandler.Get))
			r.Put("/orders/{id}", userParam("id", d.OrderHandler.Edit))
			r.Delete("/orders/{id}", userParam("id", d.OrderHandler.Cancel))

			r.Post("/positions", user(d.PositionHandler.Open))
			r.Get("/positions", user(d.PositionHandler.List))
			r.Get("/positions/{id}", userParam("id", d.PositionHandler.Get))
			r.Post("/positions/{id}/close", userParam("id", d.PositionHandler.Close))

			r.Post("/wallet/deposits", user(d.WalletHandler.Deposit))
			r.Post("/wallet/withdrawals", user(d.WalletHandler.Withdraw))
			r.Get("/wallet/transactions", user(d.WalletHandler.History))
			r.Get("/wallet/transactions/{id}", userParam("id", d.WalletHandler.Get))

			r.Get("/promos", user(d.PromoHandler.List))
			r.Get("/promos/{id}", userParam("id", d.PromoHandler.Get))
			r.Post("/promos/{id}/activate", userParam("id", d.PromoHandler.Activate))
			r.Post("/promos/{id}/redeem", userParam("id", d.PromoHandler.Redeem))
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/orders/{id}/fill", param("id", d.OrderHandler.Fill))
			r.Post("/orders/{id}/reject", param("id", d.OrderHandler.Reject))
			r.Post("/positions/{id}/liquidate", param("id", d.PositionHandler.Liquidate))
			r.Post("/markets", d.MarketHandler.Create)
			r.Post("/markets/{symbol}/price", d.MarketHandler.UpdatePrice)
			r.Post("/wallet/transactions/{id}/approve", param("id", d.WalletHandler.Approve))
			r.Post("/wallet/transactions/{id}/complete", param("id", d.WalletHandler.Complete))
			r.Post("/wallet/transactions/{id}/cancel", param("id", d.WalletHandler.Cancel))
			r.Get("/announcements", d.AnnouncementHandler.ListAll)
			r.Post("/announcements", d.AnnouncementHandler.Create)
			r.Put("/announcements/{id}", d.AnnouncementHandler.Update)
			r.Delete("/announcements/{id}", d.AnnouncementHandler.Delete)
			r.Post("/promos", d.PromoHandler.Create)
			r.Post("/promos/{id}/cancel", param("id", d.PromoHandler.Cancel))
		})
	})
	return r
}
