package service

import "errors"

// Ошибки сервисного слоя; обработчики HTTP сопоставляют их со статусами.
var (
	ErrNotFound   = errors.New("управляемый файл не зарегистрирован")
	ErrFileInUse  = errors.New("на файл ссылаются владельцы, удаление запрещено")
	ErrConflict   = errors.New("целевой путь уже занят")
	ErrValidation = errors.New("некорректные входные данные")
)
