/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package quote

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/e3o8o/triggerr-sub002/lib/aggregator"
	"github.com/e3o8o/triggerr-sub002/lib/canonical"
	"github.com/e3o8o/triggerr-sub002/lib/defaults"
)

// Stable refusal identifiers surfaced to collaborators.
const (
	ReasonInsufficientData     = "INSUFFICIENT_DATA"
	ReasonEventAlreadyOccurred = "EVENT_ALREADY_OCCURRED"
	ReasonQuoteExpired         = "QUOTE_EXPIRED"
)

// Refusal returns the typed error for a quoting refusal. The reason is one of
// the Reason* constants and is part of the stable message format.
func Refusal(reason, format string, args ...any) error {
	return trace.BadParameter("REFUSED_%v: %v", reason, fmt.Sprintf(format, args...))
}

// IsRefusal reports whether err is a quoting refusal with the given reason.
func IsRefusal(err error, reason string) bool {
	return err != nil && trace.IsBadParameter(err) &&
		strings.Contains(err.Error(), "REFUSED_"+reason)
}

// QuoteStatus is the quote lifecycle state.
type QuoteStatus string

const (
	QuoteStatusPending  QuoteStatus = "PENDING"
	QuoteStatusAccepted QuoteStatus = "ACCEPTED"
	QuoteStatusExpired  QuoteStatus = "EXPIRED"
	QuoteStatusRejected QuoteStatus = "REJECTED"
)

// Quote is one priced offer. All monetary values are minor units (cents).
type Quote struct {
	// ID is the internal quote identifier.
	ID string `json:"id"`
	// QuoteNumber is the unique human-facing reference.
	QuoteNumber string `json:"quote_number"`
	// ProviderRef names the underwriting provider.
	ProviderRef string `json:"provider_ref"`

	FlightNumber string    `json:"flight_number"`
	FlightDate   time.Time `json:"flight_date"`

	Coverage       CoverageType `json:"coverage"`
	CoverageAmount int64        `json:"coverage_amount"`
	Premium        int64        `json:"premium"`

	// Risk is the factor snapshot the premium was computed from.
	Risk RiskSnapshot `json:"risk"`

	Status     QuoteStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	ValidUntil time.Time   `json:"valid_until"`
}

// Check verifies the quote invariants.
func (q *Quote) Check() error {
	if q.ID == "" {
		return trace.BadParameter("quote is missing an id")
	}
	if q.Premium <= 0 {
		return trace.BadParameter("quote %v has a non-positive premium", q.ID)
	}
	if q.Premium >= q.CoverageAmount {
		return trace.BadParameter("quote %v premium %v is not below coverage %v", q.ID, q.Premium, q.CoverageAmount)
	}
	if !q.ValidUntil.After(q.CreatedAt) {
		return trace.BadParameter("quote %v expires before it was created", q.ID)
	}
	return nil
}

// CheckAcceptable verifies the quote can still be bound to a policy at the
// given time.
func (q *Quote) CheckAcceptable(now time.Time) error {
	if q.Status != QuoteStatusPending {
		return trace.CompareFailed("quote %v is %v, not PENDING", q.ID, q.Status)
	}
	if now.After(q.ValidUntil) {
		return trace.CompareFailed("REFUSED_%v: quote %v expired at %v", ReasonQuoteExpired, q.ID, q.ValidUntil.Format(time.RFC3339))
	}
	return nil
}

// QuoteSet is the result of one quoting request: one quote per priced
// product, sharing a validity deadline.
type QuoteSet struct {
	// ID identifies the quoting request.
	ID string `json:"id"`
	// ValidUntil is when every quote in the set expires.
	ValidUntil time.Time `json:"valid_until"`
	// Quotes holds one persisted quote per product.
	Quotes []*Quote `json:"quotes"`
}

// Store is the persistence the engine needs. Implemented by lib/storage.
type Store interface {
	// CreateQuote persists a new quote.
	CreateQuote(ctx context.Context, q *Quote) error
	// GetQuote fetches a quote by id.
	GetQuote(ctx context.Context, id string) (*Quote, error)
	// ExpirePendingQuotes marks PENDING quotes past their validity EXPIRED
	// and returns how many were updated.
	ExpirePendingQuotes(ctx context.Context, now time.Time) (int, error)
}

// Request is one quoting request.
type Request struct {
	// FlightNumber and FlightDate identify the flight-day.
	FlightNumber string
	FlightDate   time.Time
	// Coverage selects a single product; empty means quote every product.
	Coverage CoverageType
	// CoverageAmount is the requested coverage in minor units.
	CoverageAmount int64
	// Airports lists the airports to price weather risk for, typically the
	// endpoints. Empty skips weather.
	Airports []string
}

// Check validates the request.
func (r *Request) Check() error {
	if r.FlightNumber == "" {
		return trace.BadParameter("missing parameter FlightNumber")
	}
	if r.FlightDate.IsZero() {
		return trace.BadParameter("missing parameter FlightDate")
	}
	if r.CoverageAmount <= 0 {
		return trace.BadParameter("coverage amount must be positive, got %v", r.CoverageAmount)
	}
	return nil
}

// EngineConfig configures a quoting Engine.
type EngineConfig struct {
	// Router assembles the flight/weather bundle for a request.
	Router *aggregator.DataRouter
	// Store persists issued quotes.
	Store Store
	// Products is the sellable product table.
	Products []Product
	// ProviderRef names the underwriting provider on issued quotes.
	ProviderRef string
	// ValidityWindow is the time between issue and expiry.
	ValidityWindow time.Duration
	// RefusalFloor is the bundle quality below which the engine refuses.
	RefusalFloor float64
	// SurchargeFloor is the bundle quality below which the data-confidence
	// surcharge applies.
	SurchargeFloor float64
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
	// Log is the engine's log.
	Log *slog.Logger
}

// CheckAndSetDefaults checks and sets defaults.
func (c *EngineConfig) CheckAndSetDefaults() error {
	if c.Router == nil {
		return trace.BadParameter("missing parameter Router")
	}
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if len(c.Products) == 0 {
		c.Products = DefaultProducts()
	}
	if c.ProviderRef == "" {
		c.ProviderRef = "triggerr-direct"
	}
	if c.ValidityWindow == 0 {
		c.ValidityWindow = defaults.QuoteValidityWindow
	}
	if c.RefusalFloor == 0 {
		c.RefusalFloor = defaults.QuoteRefusalQualityFloor
	}
	if c.SurchargeFloor == 0 {
		c.SurchargeFloor = defaults.QuoteSurchargeQualityFloor
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "quote-engine")
	return nil
}

// NewEngine returns a quoting Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{cfg: cfg}, nil
}

// Engine prices policies from aggregated data. Pricing is deterministic and
// every factor is persisted with the quote.
type Engine struct {
	cfg EngineConfig
}

// GenerateQuote assembles the data bundle for the request, prices one quote
// per requested product and persists them. It refuses rather than price on
// insufficient or post-event data.
func (e *Engine) GenerateQuote(ctx context.Context, req Request) (*QuoteSet, error) {
	if err := req.Check(); err != nil {
		return nil, trace.Wrap(err)
	}

	products, err := e.requestedProducts(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	bundle, err := e.cfg.Router.GetDataForPolicy(ctx, aggregator.PolicyDataQuery{
		FlightNumber:   req.FlightNumber,
		Date:           req.FlightDate,
		Airports:       req.Airports,
		IncludeWeather: len(req.Airports) > 0,
	})
	if err != nil {
		if trace.IsNotFound(err) {
			quotesCounter.WithLabelValues("refused").Inc()
			return nil, Refusal(ReasonInsufficientData, "no flight data for %v on %v",
				req.FlightNumber, req.FlightDate.UTC().Format(time.DateOnly))
		}
		return nil, trace.Wrap(err)
	}

	quality := bundle.QualityScore()
	if quality < e.cfg.RefusalFloor {
		quotesCounter.WithLabelValues("refused").Inc()
		return nil, Refusal(ReasonInsufficientData, "data quality %.2f is below the quoting floor %.2f",
			quality, e.cfg.RefusalFloor)
	}

	flight := bundle.Flight.Flight
	now := e.cfg.Clock.Now().UTC()

	set := &QuoteSet{
		ID:         uuid.NewString(),
		ValidUntil: now.Add(e.cfg.ValidityWindow),
	}

	var origin, destination *canonical.Weather
	if flight.Origin.IATA != "" {
		origin = bundle.WeatherFor(flight.Origin.IATA)
	}
	if flight.Destination.IATA != "" {
		destination = bundle.WeatherFor(flight.Destination.IATA)
	}
	risk := computeRisk(flight, origin, destination, quality, e.cfg.SurchargeFloor)

	for _, product := range products {
		if err := product.CheckCoverage(req.CoverageAmount); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := checkEventNotOccurred(product.Coverage, flight); err != nil {
			quotesCounter.WithLabelValues("refused").Inc()
			return nil, trace.Wrap(err)
		}

		premium := price(product, req.CoverageAmount, risk.Combined)
		q := &Quote{
			ID:             uuid.NewString(),
			QuoteNumber:    quoteNumber(),
			ProviderRef:    e.cfg.ProviderRef,
			FlightNumber:   req.FlightNumber,
			FlightDate:     req.FlightDate.UTC(),
			Coverage:       product.Coverage,
			CoverageAmount: req.CoverageAmount,
			Premium:        premium,
			Risk:           risk,
			Status:         QuoteStatusPending,
			CreatedAt:      now,
			ValidUntil:     set.ValidUntil,
		}
		if err := q.Check(); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := e.cfg.Store.CreateQuote(ctx, q); err != nil {
			return nil, trace.Wrap(err)
		}
		set.Quotes = append(set.Quotes, q)
	}

	quotesCounter.WithLabelValues("ok").Inc()
	e.cfg.Log.InfoContext(ctx, "Issued quote set.",
		"set", set.ID,
		"flight", req.FlightNumber,
		"products", len(set.Quotes),
		"quality", quality,
		"multiplier", risk.Combined,
	)
	return set, nil
}

// ExpireDueQuotes sweeps PENDING quotes whose validity has lapsed. Driven by
// the scheduler.
func (e *Engine) ExpireDueQuotes(ctx context.Context) (int, error) {
	n, err := e.cfg.Store.ExpirePendingQuotes(ctx, e.cfg.Clock.Now().UTC())
	if err != nil {
		return 0, trace.Wrap(err)
	}
	if n > 0 {
		e.cfg.Log.InfoContext(ctx, "Expired lapsed quotes.", "count", n)
	}
	return n, nil
}

func (e *Engine) requestedProducts(req Request) ([]Product, error) {
	if req.Coverage == "" {
		return e.cfg.Products, nil
	}
	product, err := ProductFor(e.cfg.Products, req.Coverage)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return []Product{product}, nil
}

// checkEventNotOccurred refuses to sell coverage for an outcome that is
// already decided.
func checkEventNotOccurred(coverage CoverageType, f *canonical.Flight) error {
	switch f.Status {
	case canonical.FlightStatusCancelled, canonical.FlightStatusDiverted:
		return Refusal(ReasonEventAlreadyOccurred, "flight %v is already %v", f.FlightNumber, f.Status)
	case canonical.FlightStatusLanded:
		return Refusal(ReasonEventAlreadyOccurred, "flight %v has already landed", f.FlightNumber)
	}
	if coverage == CoverageFlightDelay && f.ArrivalDelayMinutes != nil &&
		time.Duration(*f.ArrivalDelayMinutes)*time.Minute >= defaults.DefaultDelayThreshold {
		return Refusal(ReasonEventAlreadyOccurred, "flight %v already reports a %v minute arrival delay",
			f.FlightNumber, *f.ArrivalDelayMinutes)
	}
	return nil
}

// price computes the clamped premium in minor units.
func price(p Product, coverage int64, multiplier float64) int64 {
	premium := int64(math.Round(float64(coverage) * p.BaseRate * multiplier))
	if premium < p.MinPremium {
		premium = p.MinPremium
	}
	if premium > p.MaxPremium {
		premium = p.MaxPremium
	}
	return premium
}

func quoteNumber() string {
	return "QT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
