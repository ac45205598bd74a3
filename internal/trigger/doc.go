// Package trigger сопоставляет внешние стимулы с definitions и
// создаёт workflow instances.
//
// Четыре стратегии:
//   - EVENT: матчинг входящего события по типу и фильтру
//   - SCHEDULE: cron-тик с идемпотентным fire key на минуту
//   - CONDITION: порог над внешней метрикой с гистерезисом
//   - WEBHOOK/MANUAL: синхронный вызов с валидацией auth и входов
package trigger
