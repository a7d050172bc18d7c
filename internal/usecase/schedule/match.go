package schedule

import "wa-scheduler/internal/domain"

// Locate ищет запись в списке: по ID, если он есть у обеих сторон, иначе по
// получателю, минуте, типу и основному содержимому. Возвращает -1, если
// запись не найдена.
func Locate(list []domain.Entry, target domain.Entry) int {
	for i, e := range list {
		if domain.SameEntry(e, target) {
			return i
		}
	}
	return -1
}
