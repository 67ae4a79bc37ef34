// Пакет wal — журнал намерений для операций, затрагивающих одновременно
// хранилище содержимого и хранилище метаданных.
//
// Журнал — один файл journal.jsonl: каждая строка — событие begin, commit
// или abort. Намерение незавершено, пока для него нет commit или abort.
// Состояние незавершённых намерений восстанавливается чтением журнала при Open.
package wal

import "time"

// Op — вид операции, защищаемой намерением.
type Op string

const (
	// OpMediaAdd — добавление: содержимое пишется раньше метаданных.
	OpMediaAdd Op = "media_add"
	// OpMediaDelete — удаление: содержимое удаляется раньше метаданных.
	OpMediaDelete Op = "media_delete"
)

type event string

const (
	eventBegin  event = "begin"
	eventCommit event = "commit"
	eventAbort  event = "abort"
)

// Intent — незавершённое намерение.
type Intent struct {
	TxID      string
	Op        Op
	MediaIDs  []string
	StartedAt time.Time
}

// line — строка журнала. Op и MediaIDs заполняются только для begin.
type line struct {
	Event    event     `json:"event"`
	TxID     string    `json:"tx_id"`
	Op       Op        `json:"op,omitempty"`
	MediaIDs []string  `json:"media_ids,omitempty"`
	At       time.Time `json:"at"`
}

func (l line) intent() *Intent {
	return &Intent{TxID: l.TxID, Op: l.Op, MediaIDs: l.MediaIDs, StartedAt: l.At}
}

func (in *Intent) beginLine() line {
	return line{Event: eventBegin, TxID: in.TxID, Op: in.Op, MediaIDs: in.MediaIDs, At: in.StartedAt}
}
