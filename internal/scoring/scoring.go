// Package scoring содержит чистые правила начисления очков за продукты.
package scoring

import (
	"time"

	"github.com/mmeshcher/pantry-score/internal/model"
)

const (
	// MaxDayPoints ограничивает очки за запас дней до истечения срока.
	MaxDayPoints = 10
	// ExpiryPenalty начисляется за любой просроченный продукт.
	ExpiryPenalty = -10
	// ConsumptionBonus начисляется один раз при употреблении продукта до истечения срока.
	ConsumptionBonus = 5
)

// DaysRemaining возвращает число дней от today до expiry по календарным датам.
// Дата истечения берётся в собственной зоне, today в зоне часов сервиса.
func DaysRemaining(expiry, today time.Time) int {
	e := civilDate(expiry)
	t := civilDate(today)
	return int(e.Sub(t).Hours() / 24)
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ProductScore возвращает вклад продукта в счёт пользователя.
func ProductScore(days int, status model.ProductStatus) int {
	switch status {
	case model.ProductStatusConsumed:
		return 0
	case model.ProductStatusExpired:
		return ExpiryPenalty
	case model.ProductStatusNotExpired:
		return dayPoints(days)
	default:
		panic("scoring: unknown product status " + string(status))
	}
}

func dayPoints(days int) int {
	switch {
	case days < 0:
		return ExpiryPenalty
	case days >= MaxDayPoints:
		return MaxDayPoints
	default:
		return days
	}
}

// ConsumptionBonusFor возвращает бонус за употребление при days оставшихся днях.
func ConsumptionBonusFor(days int) int {
	if days < 0 {
		return 0
	}
	return ConsumptionBonus
}

// ConsumedContribution возвращает суммарный вклад употреблённого продукта,
// накопленный инкрементально: очки за дни на момент употребления плюс бонус.
// Продукт, употреблённый после истечения срока, сохраняет штраф.
func ConsumedContribution(daysAtConsumption int) int {
	if daysAtConsumption < 0 {
		return ExpiryPenalty
	}
	return clamp(daysAtConsumption, 0, MaxDayPoints) + ConsumptionBonus
}

// DeletionDelta возвращает изменение счёта при удалении продукта.
// Удаление просроченного продукта счёт не меняет.
func DeletionDelta(days int, status model.ProductStatus) int {
	switch status {
	case model.ProductStatusExpired:
		return 0
	case model.ProductStatusConsumed:
		if days < 0 {
			return 0
		}
		return -(clamp(days, 0, MaxDayPoints) + ConsumptionBonus)
	case model.ProductStatusNotExpired:
		return -ProductScore(days, status)
	default:
		panic("scoring: unknown product status " + string(status))
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
