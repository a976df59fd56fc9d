// Package janus реализует транспортный слой для работы со шлюзом Janus
// по постоянному WebSocket соединению.
//
// Пакет решает две задачи:
//   - Client: мультиплексирование запросов/ответов поверх одного соединения.
//     Каждому запросу присваивается корреляционный токен (transaction),
//     ответ шлюза сопоставляется с ожидающим запросом по этому токену.
//     Фреймы без ожидающей транзакции считаются асинхронными событиями
//     и доставляются подписчикам в порядке прихода.
//   - Session: логическая сессия шлюза и plugin handle, которыми
//     квалифицируются все последующие запросы, плюс периодический
//     keepalive, не дающий шлюзу закрыть простаивающую сессию.
//
// Слой не знает ничего про SIP и медиа: этим занимается пакет phone,
// использующий janus как транспорт.
package janus
