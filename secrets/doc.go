// Package secrets ищет утечки учётных данных в файлах, подготовленных к коммиту.
//
// Проверка эвристическая: присваивания паролей и client_secret в исходниках,
// блоки приватных ключей и буквальные значения секретов из конфигурации
// прокси (CLIENT_SECRET, OAUTH_PASSWORD). Используется как pre-commit хук
// через команду check-secrets.
package secrets
