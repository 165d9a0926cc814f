package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/marketcart/internal/broadcast"
	"github.com/roach88/marketcart/internal/cart"
	"github.com/roach88/marketcart/internal/checkout"
	"github.com/roach88/marketcart/internal/scheduler"
)

// Cart is the repository surface used by the handlers.
type Cart interface {
	Snapshot() cart.Cart
	Totals() cart.Totals
	Dirty() bool
	Add(ctx context.Context, item cart.Item) error
	SetQuantity(ctx context.Context, id cart.ItemID, n int) error
	Remove(ctx context.Context, id cart.ItemID) error
	StripDiscount(ctx context.Context, id cart.ItemID) error
	GrantDiscount(ctx context.Context, id cart.ItemID, percent int) error
	Clear(ctx context.Context) error
	Retry(ctx context.Context) error
}

// Windows lists discount windows.
type Windows interface {
	Windows() []scheduler.Window
}

// Checkout places orders.
type Checkout interface {
	LoadSnapshot(ctx context.Context) (checkout.Snapshot, bool, error)
	PlaceOrder(ctx context.Context, s checkout.Snapshot) (checkout.Summary, error)
}

// Deps are the components served over HTTP.
type Deps struct {
	Cart        Cart
	Windows     Windows
	Checkout    Checkout
	Broadcaster *broadcast.Broadcaster
	Logger      *slog.Logger

	// RequestTimeout bounds every request except the event stream.
	RequestTimeout time.Duration
}

type server struct {
	cart     Cart
	windows  Windows
	checkout Checkout
	bc       *broadcast.Broadcaster
	logger   *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	s := &server{
		cart:     d.Cart,
		windows:  d.Windows,
		checkout: d.Checkout,
		bc:       d.Broadcaster,
		logger:   d.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Get("/events", s.streamEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Get("/health", s.health)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.getCart)
			r.Delete("/", s.clearCart)
			r.Post("/retry", s.retry)
			r.Get("/windows", s.listWindows)

			r.Post("/items", s.addItem)
			r.Route("/items/{id}", func(r chi.Router) {
				r.Delete("/", s.removeItem)
				r.Put("/quantity", s.setQuantity)
				r.Post("/discount", s.grantDiscount)
				r.Delete("/discount", s.stripDiscount)
			})
		})

		r.Get("/checkout", s.getCheckout)
		r.Post("/checkout", s.placeOrder)
	})

	return r
}

// requestLogger logs one line per request through slog.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
