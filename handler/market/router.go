package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter はAPIのルーティングを設定する
func NewRouter(h *MarketHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestID, AccessLog, Recover)

	// ヘルスチェック用エンドポイント
	router.HandleFunc("/", h.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", h.HandleSession).Methods(http.MethodGet)

	// Catalog API
	api.HandleFunc("/catalog", h.HandleCatalog).Methods(http.MethodGet)
	api.HandleFunc("/catalog/refresh", h.HandleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{address}/listings", h.HandleListings).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{address}/purchases", h.HandlePurchases).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{address}/offers", h.HandleOffers).Methods(http.MethodGet)

	// Purchase API
	api.HandleFunc("/items/{itemId:[0-9]+}", h.HandleItem).Methods(http.MethodGet)
	api.HandleFunc("/items/{itemId:[0-9]+}/quote", h.HandleQuote).Methods(http.MethodGet)
	api.HandleFunc("/items/{itemId:[0-9]+}/purchase", h.HandlePurchase).Methods(http.MethodPost)

	// Listing API
	api.HandleFunc("/listings", h.HandleCreateListing).Methods(http.MethodPost)
	api.HandleFunc("/tokens/{tokenId:[0-9]+}/listing", h.HandleRelist).Methods(http.MethodPost)

	api.HandleFunc("/tx/verify", h.HandleVerifyTransaction).Methods(http.MethodPost)
	return router
}
