// Package pickup materialises hourly pickup slots inside operating hours and
// enforces each slot's order capacity.
package pickup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

type Hours struct {
	Open     int // first slot starts at Open:00
	Close    int // last slot ends at Close:00
	Capacity int // max orders per slot
	Location *time.Location
}

var DefaultHours = Hours{Open: 9, Close: 17, Capacity: 5, Location: time.UTC}

const maxHorizonDays = 60

type Scheduler struct {
	Store orders.Store
	Hours Hours
	Now   func() time.Time
	Log   logrus.FieldLogger
}

func NewScheduler(store orders.Store, h Hours, log logrus.FieldLogger) *Scheduler {
	if h.Location == nil {
		h.Location = time.UTC
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{Store: store, Hours: h, Now: time.Now, Log: log.WithField("component", "pickup")}
}

// SlotTimes lists the slot start times for horizonDays calendar days
// starting today, weekdays only.
func (s *Scheduler) SlotTimes(horizonDays int) []time.Time {
	horizonDays = clampHorizon(horizonDays)
	now := s.Now().In(s.Hours.Location)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.Hours.Location)
	var out []time.Time
	for d := 0; d < horizonDays; d++ {
		date := day.AddDate(0, 0, d)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for h := s.Hours.Open; h < s.Hours.Close; h++ {
			out = append(out, time.Date(date.Year(), date.Month(), date.Day(), h, 0, 0, 0, s.Hours.Location))
		}
	}
	return out
}

// EnsureSlotsGenerated creates any missing slot in the horizon. Inserts are
// keyed by start time so repeated or concurrent calls never duplicate.
func (s *Scheduler) EnsureSlotsGenerated(ctx context.Context, horizonDays int) (int, error) {
	created := 0
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		created = 0
		for _, at := range s.SlotTimes(horizonDays) {
			ok, err := tx.InsertSlot(ctx, orders.PickupSlot{
				ID:        uuid.NewString(),
				SlotTime:  at.UTC(),
				MaxOrders: s.Hours.Capacity,
			})
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		s.Log.WithFields(logrus.Fields{"created": created, "horizon_days": horizonDays}).Info("pickup slots generated")
	}
	return created, nil
}

// ListAvailable returns future slots in the horizon that still have room,
// ordered by start time. Every call reads current state.
func (s *Scheduler) ListAvailable(ctx context.Context, horizonDays int) ([]orders.PickupSlot, error) {
	horizonDays = clampHorizon(horizonDays)
	now := s.Now()
	loc := now.In(s.Hours.Location)
	end := time.Date(loc.Year(), loc.Month(), loc.Day(), 0, 0, 0, 0, s.Hours.Location).AddDate(0, 0, horizonDays)
	var out []orders.PickupSlot
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		all, err := tx.ListSlots(ctx, now.UTC(), end.UTC())
		if err != nil {
			return err
		}
		out = out[:0]
		for _, sl := range all {
			if sl.CurrentOrders < sl.MaxOrders {
				out = append(out, sl)
			}
		}
		return nil
	})
	return out, err
}

func (s *Scheduler) TryReserveSlot(ctx context.Context, slotID string) error {
	return s.Store.InTx(ctx, func(tx orders.Tx) error {
		return s.ReserveTx(ctx, tx, slotID)
	})
}

func (s *Scheduler) ReleaseSlot(ctx context.Context, slotID string) error {
	return s.Store.InTx(ctx, func(tx orders.Tx) error {
		return s.ReleaseTx(ctx, tx, slotID)
	})
}

// ReserveTx locks the slot and takes one unit of capacity. Full slots and
// slots that already started are unavailable.
func (s *Scheduler) ReserveTx(ctx context.Context, tx orders.Tx, slotID string) error {
	sl, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if sl.CurrentOrders >= sl.MaxOrders || !sl.SlotTime.After(s.Now()) {
		return &orders.SlotUnavailableError{SlotID: slotID}
	}
	return tx.UpdateSlotOrders(ctx, slotID, sl.CurrentOrders+1)
}

// ReleaseTx gives one unit of capacity back, clamped at zero.
func (s *Scheduler) ReleaseTx(ctx context.Context, tx orders.Tx, slotID string) error {
	sl, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if sl.CurrentOrders == 0 {
		s.Log.WithField("slot_id", slotID).Warn("release on empty slot ignored")
		return nil
	}
	return tx.UpdateSlotOrders(ctx, slotID, sl.CurrentOrders-1)
}

func clampHorizon(days int) int {
	switch {
	case days < 1:
		return 1
	case days > maxHorizonDays:
		return maxHorizonDays
	}
	return days
}
