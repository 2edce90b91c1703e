package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/switchboard/internal/httpserver/deps"
	"github.com/MrSnakeDoc/switchboard/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/switchboard/internal/httpserver/mw"
)

func init() { Register(registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	r.Route("/api", func(api chi.Router) {
		api.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))

		api.Get("/services", handlers.ListServices(d))
		api.Get("/services/{name}", handlers.GetService(d))
		api.Get("/messages", handlers.ListMessages(d))
		api.Get("/messages/{name}", handlers.GetMessage(d))
		api.Get("/events", handlers.ListEvents(d))

		// One shared budget per client for everything that writes.
		throttle := mw.Throttle(d.Throttle)
		api.Group(func(writes chi.Router) {
			writes.Use(throttle)
			writes.Post("/services", handlers.CreateService(d))
			writes.Put("/services/{name}", handlers.UpdateService(d))
			writes.Delete("/services/{name}", handlers.DeleteService(d))
			writes.Post("/services/{name}/activate", handlers.SetActive(d, true))
			writes.Post("/services/{name}/deactivate", handlers.SetActive(d, false))
			writes.Put("/messages/{name}", handlers.PutMessage(d))
			writes.Post("/resolve", handlers.Resolve(d))
			writes.Post("/reconcile", handlers.Reconcile(d))
		})
	})
}
