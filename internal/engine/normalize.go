package engine

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"idealine/internal/agents"
	"idealine/internal/domain"
	"idealine/internal/parse"
)

var priorityWords = map[string]string{
	"high": domain.PriorityHigh, "alta": domain.PriorityHigh, "alto": domain.PriorityHigh, "urgente": domain.PriorityHigh, "urgent": domain.PriorityHigh,
	"medium": domain.PriorityMedium, "media": domain.PriorityMedium, "medio": domain.PriorityMedium, "normal": domain.PriorityMedium,
	"low": domain.PriorityLow, "baja": domain.PriorityLow, "bajo": domain.PriorityLow,
}

var paraWords = map[string]string{
	"project": domain.PARAProject, "proyecto": domain.PARAProject, "projects": domain.PARAProject, "proyectos": domain.PARAProject,
	"area": domain.PARAArea, "areas": domain.PARAArea,
	"resource": domain.PARAResource, "recurso": domain.PARAResource, "resources": domain.PARAResource, "recursos": domain.PARAResource,
	"archive": domain.PARAArchive, "archivo": domain.PARAArchive, "archived": domain.PARAArchive, "archivado": domain.PARAArchive,
}

var commitmentWords = map[string]string{
	"committed": domain.CommitmentCommitted, "comprometida": domain.CommitmentCommitted, "comprometido": domain.CommitmentCommitted,
	"this-week": domain.CommitmentThisWeek, "esta-semana": domain.CommitmentThisWeek,
	"someday": domain.CommitmentSomeday, "some-day": domain.CommitmentSomeday, "algun-dia": domain.CommitmentSomeday,
	"maybe": domain.CommitmentMaybe, "tal-vez": domain.CommitmentMaybe, "quizas": domain.CommitmentMaybe,
}

var energyWords = map[string]string{
	"low": domain.EnergyLow, "baja": domain.EnergyLow, "bajo": domain.EnergyLow,
	"medium": domain.EnergyMedium, "media": domain.EnergyMedium, "medio": domain.EnergyMedium,
	"high": domain.EnergyHigh, "alta": domain.EnergyHigh, "alto": domain.EnergyHigh,
}

var contextWords = map[string]string{
	"computador": "at-computer", "computadora": "at-computer", "computer": "at-computer", "pc": "at-computer",
	"email": "by-email", "correo": "by-email", "mail": "by-email",
	"telefono": "by-phone", "phone": "by-phone", "llamada": "by-phone", "llamar": "by-phone",
	"oficina": "in-office", "office": "in-office",
	"diligencia": "on-errand", "recado": "on-errand", "terreno": "on-errand", "errand": "on-errand", "calle": "on-errand",
	"casa": "at-home", "home": "at-home",
	"esperando": "waiting", "espera": "waiting", "waiting-for": "waiting",
	"compras": "shopping", "comprar": "shopping",
	"investigacion": "research", "investigar": "research",
	"reunion": "meeting", "reuniones": "meeting",
	"lectura": "reading", "leer": "reading",
}

// enumKey folds case and accents and unifies separators, so "Algún día" and
// "algun_dia" share a key.
func enumKey(s string) string {
	k := agents.Fold(s)
	k = strings.TrimPrefix(k, "@")
	k = strings.NewReplacer("_", "-", " ", "-").Replace(k)
	return k
}

func lookup(words map[string]string, s string) (string, bool) {
	v, ok := words[enumKey(s)]
	return v, ok
}

func normalizePriority(s string) string {
	if v, ok := lookup(priorityWords, s); ok {
		return v
	}
	return domain.PriorityMedium
}

func normalizePARA(s string) string {
	if v, ok := lookup(paraWords, s); ok {
		return v
	}
	return domain.PARAResource
}

func normalizeCommitment(s string) string {
	if v, ok := lookup(commitmentWords, s); ok {
		return v
	}
	return domain.CommitmentThisWeek
}

// normalizeEnergy returns "" for unknown values.
func normalizeEnergy(s string) string {
	v, _ := lookup(energyWords, s)
	return v
}

// normalizeContext returns "" for unknown values.
func normalizeContext(s string) string {
	k := enumKey(s)
	for _, tag := range domain.ContextTags {
		if k == tag {
			return tag
		}
	}
	if v, ok := contextWords[k]; ok {
		return v
	}
	if strings.HasPrefix(k, "at-") || strings.HasPrefix(k, "by-") || strings.HasPrefix(k, "in-") || strings.HasPrefix(k, "on-") {
		if v, ok := contextWords[k[3:]]; ok {
			return v
		}
	}
	return ""
}

// normalizeConfidence defaults a missing value and clamps into [0,1].
func normalizeConfidence(c parse.Confidence, def float64) float64 {
	if !c.Set || math.IsNaN(c.Value) {
		return def
	}
	return math.Max(0, math.Min(1, c.Value))
}

var estimateRE = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*([a-z]+)`)

var estimateUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "seg": time.Second, "segundo": time.Second, "segundos": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minuto": time.Minute, "minutos": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hora": time.Hour, "horas": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "dia": 24 * time.Hour, "dias": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "sem": 7 * 24 * time.Hour, "semana": 7 * 24 * time.Hour, "semanas": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
	"mes": 30 * 24 * time.Hour, "meses": 30 * 24 * time.Hour, "month": 30 * 24 * time.Hour, "months": 30 * 24 * time.Hour,
}

// parseEstimate reads free-text estimates such as "30 min", "1h30m" or "2 días".
func parseEstimate(s string) (time.Duration, bool) {
	k := agents.Fold(s)
	if k == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(strings.ReplaceAll(k, " ", "")); err == nil && d > 0 {
		return d, true
	}
	var total time.Duration
	found := false
	for _, m := range estimateRE.FindAllStringSubmatch(k, -1) {
		unit, ok := estimateUnits[m[2]]
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			continue
		}
		total += time.Duration(n * float64(unit))
		found = true
	}
	return total, found
}

// nextActionIndex picks the single sub-task that carries the next-action flag:
// the first one when none is flagged, otherwise the flagged one with the
// smallest estimate. Unparseable estimates rank last; ties keep the earliest.
// It returns -1 for an empty list.
func nextActionIndex(tasks []parse.SubTask) int {
	if len(tasks) == 0 {
		return -1
	}
	best := -1
	var bestDur time.Duration
	bestParsed := false
	for i, t := range tasks {
		if !bool(t.IsNextAction) {
			continue
		}
		d, ok := parseEstimate(string(t.EstimatedTime))
		switch {
		case best == -1:
		case ok && (!bestParsed || d < bestDur):
		default:
			continue
		}
		best, bestDur, bestParsed = i, d, ok
	}
	if best == -1 {
		return 0
	}
	return best
}
