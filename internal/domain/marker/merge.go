package marker

// MergeStrategy сливает локальный маркер с уже существующим удаленным,
// когда оба считаются одной реальной точкой (пространственный дубликат).
// Интерфейс позволяет заменить эвристику на векторные часы или CRDT,
// не трогая остальной движок синхронизации.
type MergeStrategy interface {
	Merge(local, remote Marker) Marker
}

// MaxMerge — эвристика слияния через максимум счетчиков.
//
// Обе стороны хранят кумулятивные итоги, поэтому суммирование удвоило бы
// голоса; max дает корректную сходимость для двух сторон. Известное
// ограничение: третья параллельная правка между push и следующим pull
// может быть молча потеряна.
type MaxMerge struct{}

// Merge возвращает слитый маркер. Идентичность (id, создатель, координаты,
// заголовок) остается за удаленной строкой — локальная поглощается.
func (MaxMerge) Merge(local, remote Marker) Marker {
	merged := remote

	if local.Agrees > merged.Agrees {
		merged.Agrees = local.Agrees
	}
	if local.Disagrees > merged.Disagrees {
		merged.Disagrees = local.Disagrees
	}
	merged.ConfidenceScore = Confidence(merged.Agrees, merged.Disagrees)

	if len(local.Description) > len(merged.Description) {
		merged.Description = local.Description
	}
	if local.LastVerified > merged.LastVerified {
		merged.LastVerified = local.LastVerified
	}

	return merged
}
