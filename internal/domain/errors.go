package domain

import "errors"

var (
	// ErrMissingField возвращается, если обязательное поле записи пустое.
	ErrMissingField = errors.New("не заполнено обязательное поле")
	// ErrPollOptions возвращается, если у опроса меньше двух различных вариантов.
	ErrPollOptions = errors.New("опросу нужно минимум два различных варианта")
	// ErrUnknownKind возвращается для неизвестного типа записи.
	ErrUnknownKind = errors.New("неизвестный тип записи")
	// ErrInvalidTime возвращается, если время записи не удалось разобрать.
	ErrInvalidTime = errors.New("некорректное время")
	// ErrNoRecipients возвращается, если для пакета не указан ни один получатель.
	ErrNoRecipients = errors.New("не указаны получатели")
	// ErrEntryNotFound возвращается, если запись не найдена в свежем списке.
	ErrEntryNotFound = errors.New("запись не найдена")
	// ErrIndexOutOfRange возвращается для позиции вне списка.
	ErrIndexOutOfRange = errors.New("позиция вне списка")
	// ErrGroupExists возвращается при повторном добавлении группы.
	ErrGroupExists = errors.New("группа уже сохранена")
	// ErrGroupNotFound возвращается, если группа не сохранена.
	ErrGroupNotFound = errors.New("группа не найдена")
)
