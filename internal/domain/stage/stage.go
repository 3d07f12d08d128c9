// Пакет stage — конечный автомат этапов импорта одного файла.
//
// Линейный жизненный цикл:
//
//	validating → source_checked → name_resolved → path_ensured →
//	copied → hashed → metadata_linked → done
//
// Из любого незавершённого этапа допустим переход в failed.
// Сбой до copied не оставляет побочных эффектов; сбой на copied и позже
// оставляет изменения файловой системы на месте (компенсации нет).
package stage

import (
	"fmt"
	"time"
)

// Stage — этап конвейера импорта.
type Stage string

const (
	Validating     Stage = "validating"
	SourceChecked  Stage = "source_checked"
	NameResolved   Stage = "name_resolved"
	PathEnsured    Stage = "path_ensured"
	Copied         Stage = "copied"
	Hashed         Stage = "hashed"
	MetadataLinked Stage = "metadata_linked"
	Done           Stage = "done"
	Failed         Stage = "failed"
)

// order — порядок этапов успешного импорта.
var order = []Stage{Validating, SourceChecked, NameResolved, PathEnsured, Copied, Hashed, MetadataLinked, Done}

// next — матрица допустимых переходов вперёд.
var next = func() map[Stage]Stage {
	m := make(map[Stage]Stage, len(order))
	for i := 0; i < len(order)-1; i++ {
		m[order[i]] = order[i+1]
	}
	return m
}()

// Outcome — исход этапа hashed.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeStored  Outcome = "stored"
	OutcomeDeduped Outcome = "deduped"
)

// TransitionRecord — запись о переходе между этапами.
type TransitionRecord struct {
	From Stage     `json:"from"`
	To   Stage     `json:"to"`
	At   time.Time `json:"at"`
}

// Tracker — автомат этапов одного импорта.
// Не потокобезопасен: импорт выполняется синхронно в одной горутине.
type Tracker struct {
	current Stage
	outcome Outcome
	failed  Stage
	history []TransitionRecord
}

// NewTracker создаёт автомат в начальном этапе validating.
func NewTracker() *Tracker {
	return &Tracker{current: Validating}
}

// Current возвращает текущий этап.
func (t *Tracker) Current() Stage {
	return t.current
}

// Outcome возвращает исход хэширования (stored / deduped).
func (t *Tracker) Outcome() Outcome {
	return t.outcome
}

// FailedAt возвращает этап, на котором произошёл сбой.
func (t *Tracker) FailedAt() Stage {
	return t.failed
}

// Advance переводит автомат в следующий этап.
// Возвращает ошибку, если to не является непосредственным следующим этапом.
func (t *Tracker) Advance(to Stage) error {
	expected, ok := next[t.current]
	if !ok || expected != to {
		return &TransitionError{From: t.current, To: to}
	}
	t.record(to)
	return nil
}

// MarkHashed выполняет переход copied → hashed с фиксацией исхода.
func (t *Tracker) MarkHashed(outcome Outcome) error {
	if err := t.Advance(Hashed); err != nil {
		return err
	}
	t.outcome = outcome
	return nil
}

// Fail переводит автомат в failed, запоминая этап сбоя.
// Повторный вызов и вызов после done игнорируются.
func (t *Tracker) Fail() {
	if t.current == Failed || t.current == Done {
		return
	}
	t.failed = t.current
	t.record(Failed)
}

// HasSideEffects сообщает, могли ли остаться изменения на диске.
// Для успешного или ещё не завершённого импорта учитывается текущий этап.
func (t *Tracker) HasSideEffects() bool {
	s := t.current
	if s == Failed {
		s = t.failed
	}
	return position(s) >= position(Copied)
}

// History возвращает копию истории переходов.
func (t *Tracker) History() []TransitionRecord {
	result := make([]TransitionRecord, len(t.history))
	copy(result, t.history)
	return result
}

func (t *Tracker) record(to Stage) {
	t.history = append(t.history, TransitionRecord{
		From: t.current,
		To:   to,
		At:   time.Now().UTC(),
	})
	t.current = to
}

func position(s Stage) int {
	for i, st := range order {
		if st == s {
			return i
		}
	}
	return -1
}

// TransitionError — недопустимый переход между этапами.
type TransitionError struct {
	From Stage
	To   Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("переход этапа импорта %s → %s недопустим", e.From, e.To)
}
