package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"

	v1mware "github.com/deepgram/agentdeck/internal/api/v1/middleware"
	"github.com/deepgram/agentdeck/internal/services"
)

func gzip(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

func RegisterRoutes(router *mux.Router, services *services.Services, dashboardFile string) {
	router.NotFoundHandler = http.HandlerFunc(HandleNotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(HandleNotFound)

	// Dashboard page
	router.HandleFunc("/", HandleDashboard(dashboardFile)).Methods("GET")
	router.HandleFunc("/index.html", HandleDashboard(dashboardFile)).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(v1mware.RateLimit("global"))

	// JSON reads are compressed; streams never are
	readRouter := api.NewRoute().Subrouter()
	readRouter.Use(gzip)
	readRouter.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		HandleListAgents(services.GetHealthService(), w, r)
	}).Methods("GET")
	readRouter.HandleFunc("/agents/{id}/conversation", func(w http.ResponseWriter, r *http.Request) {
		HandleGetConversation(services.GetChatService(), w, r)
	}).Methods("GET")
	readRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		HandleHealth(services.GetHealthService(), w, r)
	}).Methods("GET")

	// Registry management
	api.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		HandleRegisterAgent(services.GetRegistry(), w, r)
	}).Methods("POST")
	api.HandleFunc("/agents/reload", func(w http.ResponseWriter, r *http.Request) {
		HandleReloadAgents(services.GetRegistry(), w, r)
	}).Methods("POST")
	api.HandleFunc("/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		HandleUpdateAgent(services.GetRegistry(), w, r)
	}).Methods("PUT")
	api.HandleFunc("/agents/{id}/clear", func(w http.ResponseWriter, r *http.Request) {
		HandleClearConversation(services.GetChatService(), w, r)
	}).Methods("POST")

	// Chat routes
	chatRouter := api.NewRoute().Subrouter()
	chatRouter.Use(v1mware.RateLimit("chat"))
	chatRouter.HandleFunc("/agents/{id}/chat", func(w http.ResponseWriter, r *http.Request) {
		HandleChat(services.GetChatService(), w, r)
	}).Methods("POST")
	chatRouter.HandleFunc("/agents/{id}/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		HandleChatStream(services.GetChatService(), w, r)
	}).Methods("POST")
	chatRouter.HandleFunc("/agents/{id}/chat/ws", func(w http.ResponseWriter, r *http.Request) {
		HandleChatWebSocket(services.GetChatService(), services.GetConnectionManager(), w, r)
	}).Methods("GET")
}
