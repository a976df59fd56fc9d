// Package phone реализует клиент исходящих звонков поверх SIP плагина
// шлюза Janus (транспорт — пакет janus).
//
// Phone проводит звонок по полному циклу: регистрация SIP аккаунта на
// прокси, захват локального аудио, согласование медиа-описания со сбором
// транспортных кандидатов (режим "собрал и отправил", без trickle),
// отправка call-запроса и отслеживание жизненного цикла звонка по
// асинхронным событиям шлюза.
//
// Состояние звонка — единственный автомат на телефон:
//
//	Idle → Registering → Registered → Calling → Ringing → Connected → Ended
//
// с переходом в Error из любого состояния при фатальном сбое. Ended и
// Error завершают текущий звонок, но не сессию: после очистки ресурсов
// состояние возвращается в Registered и можно звонить снова.
//
// Подписка на смену состояний и на удаленный аудиопоток — через
// OnStateChange и OnRemoteTrack; подписчиков может быть несколько.
package phone
