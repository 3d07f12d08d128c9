// Пакет wal — журнал операций над управляемым деревом.
//
// Копирование на диск и запись в реестр не атомарны вместе. Перед
// операцией в журнал пишется запись pending, после неё — committed или
// rolled_back. Записи, оставшиеся pending после аварийного останова,
// указывают на окно несогласованности: временный файл, размещённый,
// но не зарегистрированный файл или незавершённый перенос папки.
// Каждая транзакция — отдельный файл {tx_id}.wal.json.
package wal

import (
	"time"
)

// OperationType — тип операции журнала.
type OperationType string

const (
	// OpImport — импорт файла (копирование + регистрация)
	OpImport OperationType = "import"
	// OpFolderRename — перенос папки и перезапись путей в реестре
	OpFolderRename OperationType = "folder_rename"
)

// TransactionStatus — статус транзакции журнала.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`

	// Source — исходный путь (файл импорта или старая папка)
	Source string `json:"source"`
	// Target — итоговый путь (файл или новая папка); для импорта сначала
	// планируемый, после размещения фактический
	Target string `json:"target"`
	// TempPath — временный файл импорта, пока он не размещён
	TempPath string `json:"temp_path,omitempty"`
	// ManagedFileID — зарегистрированный или переиспользованный файл
	ManagedFileID string `json:"managed_file_id,omitempty"`
	// Reason — причина отмены
	Reason string `json:"reason,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const fileSuffix = ".wal.json"

func walFileName(txID string) string {
	return txID + fileSuffix
}
