// Package engine содержит чистую логику оркестрации: валидацию графа
// definition, разрешение зависимостей и машины состояний.
//
// Вся логика каскадов выражена как типизированные функции над строками
// состояния: они принимают текущие строки и возвращают следующий статус
// и события для записи. Пакет не знает о БД и очередях, поэтому
// тестируется без живой инфраструктуры.
//
// Содержимое:
//   - graph.go      — построение и валидация DAG (циклы, варианты шагов)
//   - resolve.go    — разрешение зависимостей (finish-to-start и др.)
//   - transition.go — машины состояний шага и instance, решения о retry
//   - mapping.go    — рендеринг input_mapping и condition-выражений
package engine
