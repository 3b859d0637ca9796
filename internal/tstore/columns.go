package tstore

// Набор измерительных колонок фиксирован и известен заранее: это не
// универсальная TSDB, схема реляции одна на все устройства. Тот же
// список служит DDL, валидации ingest-полей и запросам.
//
// Группы: напряжения, токи, активная/реактивная мощность,
// коэффициент мощности, частота, энергия, гармоники, среда.
var MeasurementColumns = []string{
	// напряжения фаз, В
	"ua", "ub", "uc",
	// токи фаз, А
	"ia", "ib", "ic",
	// активная мощность, кВт (по фазам и суммарная)
	"pa", "pb", "pc", "p_total",
	// реактивная мощность, квар
	"qa", "qb", "qc", "q_total",
	// коэффициент мощности (четырёхквадрантный, со знаком)
	"pfa", "pfb", "pfc", "pf_avg",
	// частота сети, Гц
	"freq",
	// энергия: активная/реактивная, приём/отдача, кВт·ч / квар·ч
	"ep_imp", "ep_exp", "eq_imp", "eq_exp",
	// суммарные гармонические искажения, %
	"thd_ua", "thd_ub", "thd_uc", "thd_ia", "thd_ib", "thd_ic",
	// окружающая среда
	"temperature", "humidity",
}

var knownColumns = func() map[string]struct{} {
	m := make(map[string]struct{}, len(MeasurementColumns))
	for _, c := range MeasurementColumns {
		m[c] = struct{}{}
	}
	return m
}()

// KnownColumn сообщает, входит ли имя в фиксированный набор измерений.
func KnownColumn(name string) bool {
	_, ok := knownColumns[name]
	return ok
}
