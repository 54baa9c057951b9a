package main

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apmchi "github.com/fllarpy/apm-chi"
)

func newRouter(agent *apmchi.Agent, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(agent.Middleware())

	r.Get("/", helloHandler)
	r.Get("/users/{user_id}", userHandler(db))
	r.Get("/panic", panicHandler)
	r.Get("/slow", slowHandler)
	r.Get("/db", dbHandler(db))
	r.Get("/n-plus-one", nPlusOneHandler(db))
	if endpoint := agent.Config().DebugEndpoint; endpoint != "" {
		r.Method(http.MethodGet, endpoint, agent.MetricsHandler())
	}
	return r
}

func helloHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "Hello from the chi demo!")
}

func userHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var name string
		err := db.QueryRowContext(r.Context(), "SELECT name FROM users WHERE id = ?", chi.URLParam(r, "user_id")).Scan(&name)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			http.NotFound(w, r)
		case err != nil:
			http.Error(w, "database error", http.StatusInternalServerError)
		default:
			fmt.Fprintf(w, "User: %s\n", name)
		}
	}
}

func panicHandler(w http.ResponseWriter, r *http.Request) {
	panic("demo panic")
}

func slowHandler(w http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(600 * time.Millisecond):
		fmt.Fprintln(w, "This was a slow request.")
	case <-r.Context().Done():
	}
}

func dbHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var count int
		if err := db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
			http.Error(w, "database error", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Users in DB: %d\n", count)
	}
}

func nPlusOneHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := db.QueryContext(r.Context(), "SELECT id FROM users")
		if err != nil {
			http.Error(w, "database error", http.StatusInternalServerError)
			return
		}
		var ids []int
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				http.Error(w, "database error", http.StatusInternalServerError)
				return
			}
			ids = append(ids, id)
		}
		_ = rows.Close()

		for i := 0; i < 10; i++ {
			for _, id := range ids {
				var name string
				_ = db.QueryRowContext(r.Context(), "SELECT name FROM users WHERE id = ?", id).Scan(&name)
			}
		}
		fmt.Fprintf(w, "Executed %d identical queries.\n", 10*len(ids))
	}
}
