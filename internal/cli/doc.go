// Package cli реализует инструмент командной строки Hive.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Hive API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется операторами для управления definitions, instances
// и triggers, и участниками команд для работы с task-очередью.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Hive API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	defs, err := client.ListDefinitions()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: hive definition list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - definition: list, create, show, status, versions, publish
//   - instance: list, start, show, audit, cancel, pause, resume, approve
//   - task: list, show, claim, start, complete, fail
//   - trigger: list, create, show, enable, disable, submit, event
//
// Каждая группа создаётся через фабричную функцию (NewDefinitionCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
