// Package sweep добивает истёкшие дедлайны независимо от потока
// событий: шаги и instances, чьё время вышло, переводятся в TIMED_OUT
// с каскадом отмены. Каждый переход — CAS, поэтому проходы из
// нескольких реплик безопасны.
package sweep
