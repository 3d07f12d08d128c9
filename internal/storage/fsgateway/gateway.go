// Пакет fsgateway — узкий интерфейс файловой системы, через который
// ядро импорта обращается к диску. Прямые вызовы os в других пакетах
// для управляемых файлов не допускаются.
//
// Копирование выполняется одним потоковым проходом: данные пишутся
// во временный файл в целевой директории с подсчётом SHA-256 на лету,
// затем временный файл атомарно размещается под итоговым именем
// без перезаписи существующих файлов.
package fsgateway

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrExists — целевой путь уже занят.
var ErrExists = errors.New("целевой путь уже существует")

// TempSuffix — суффикс временных файлов импорта.
const TempSuffix = ".import.tmp"

// FileInfo — сведения о файле.
type FileInfo struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// HashedCopy — результат потокового копирования во временный файл.
type HashedCopy struct {
	// TempPath — абсолютный путь временного файла в целевой директории
	TempPath string
	// Size — количество записанных байт
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// Gateway — возможности файловой системы, необходимые ядру.
type Gateway interface {
	// Exists проверяет существование пути.
	Exists(path string) bool
	// Stat возвращает сведения о файле; для отсутствующего пути —
	// ошибку, удовлетворяющую errors.Is(err, fs.ErrNotExist).
	Stat(path string) (*FileInfo, error)
	// CopyHashing копирует src во временный файл в dstDir с подсчётом SHA-256.
	CopyHashing(src, dstDir string) (*HashedCopy, error)
	// Place размещает временный файл под итоговым именем без перезаписи.
	// Возвращает ErrExists, если finalPath занят.
	Place(tmpPath, finalPath string) error
	// Move переименовывает файл или директорию.
	Move(src, dst string) error
	// Delete удаляет файл. Отсутствующий файл не считается ошибкой.
	Delete(path string) error
	// MkdirAll идемпотентно создаёт директорию со всеми родителями.
	MkdirAll(path string) error
	// List возвращает имена записей директории. Отсутствующая директория — пустой список.
	List(dir string) ([]string, error)
	// Open открывает файл для потокового чтения.
	Open(path string) (io.ReadCloser, error)
	// Walk обходит обычные файлы под root, пропуская скрытые директории
	// и временные файлы импорта.
	Walk(root string, fn func(path string, info *FileInfo) error) error
}

// OSGateway — реализация Gateway поверх локальной файловой системы.
type OSGateway struct {
	dirPerm  fs.FileMode
	filePerm fs.FileMode
}

// New создаёт OSGateway с правами по умолчанию (0750 для директорий, 0640 для файлов).
func New() *OSGateway {
	return &OSGateway{dirPerm: 0o750, filePerm: 0o640}
}

// Exists проверяет существование пути.
func (g *OSGateway) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Stat возвращает размер, время изменения и тип записи.
func (g *OSGateway) Stat(path string) (*FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", path, err)
	}
	return &FileInfo{Size: info.Size(), ModTime: info.ModTime(), IsDir: info.IsDir()}, nil
}

// CopyHashing записывает содержимое src во временный файл в dstDir
// с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync.
// При ошибке temp файл удаляется.
func (g *OSGateway) CopyHashing(src, dstDir string) (*HashedCopy, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия исходного файла %s: %w", src, err)
	}
	defer in.Close()

	tmpPath := filepath.Join(dstDir, "."+uuid.New().String()+TempSuffix)
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, g.filePerm)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	size, err := io.Copy(out, io.TeeReader(in, hasher))
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return &HashedCopy{
		TempPath: tmpPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Place размещает tmpPath под именем finalPath.
// Hard link атомарно отказывает, если finalPath существует; для файловых
// систем без hard link используется проверка + rename.
func (g *OSGateway) Place(tmpPath, finalPath string) error {
	err := os.Link(tmpPath, finalPath)
	if err == nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("ошибка удаления временного файла %s: %w", tmpPath, rmErr)
		}
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, finalPath)
	}

	if _, statErr := os.Lstat(finalPath); statErr == nil {
		return fmt.Errorf("%w: %s", ErrExists, finalPath)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Move переименовывает src в dst. Существующий dst не перезаписывается.
func (g *OSGateway) Move(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), g.dirPerm); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("ошибка перемещения %s → %s: %w", src, dst, err)
	}
	return nil
}

// Delete удаляет файл. Возвращает nil, если файл уже не существует.
func (g *OSGateway) Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", path, err)
	}
	return nil
}

// MkdirAll создаёт директорию со всеми родителями.
func (g *OSGateway) MkdirAll(path string) error {
	if err := os.MkdirAll(path, g.dirPerm); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", path, err)
	}
	return nil
}

// List возвращает имена записей директории, исключая временные файлы импорта.
func (g *OSGateway) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if IsTempFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть ReadCloser.
func (g *OSGateway) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	return f, nil
}

// Walk обходит дерево root. Директории, имя которых начинается с точки
// (служебные .archive и т.п.), пропускаются целиком.
func (g *OSGateway) Walk(root string, fn func(path string, info *FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || IsTempFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Файл удалён во время обхода
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		return fn(path, &FileInfo{Size: info.Size(), ModTime: info.ModTime()})
	})
}

// IsTempFile проверяет, является ли имя временным файлом импорта.
func IsTempFile(name string) bool {
	return strings.HasSuffix(name, TempSuffix)
}

// Проверка на этапе компиляции
var _ Gateway = (*OSGateway)(nil)
