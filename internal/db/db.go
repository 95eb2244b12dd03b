package db

import (
	"fmt"
	"log"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/skyflo-ai/skyflo/internal/config"
)

func NewConn(conf *config.Config) *sqlx.DB {
	str := fmt.Sprintf("postgresql://%v:%v@%v:%v/%v", conf.DBUsername, conf.DBPassword, conf.DBHost, conf.DBPort, conf.DBName)
	if conf.DisableTLS {
		str = str + "?sslmode=disable"
	}
	slog.Info("connecting to database")

	db, err := sqlx.Open("postgres", str)
	if err != nil {
		log.Fatal(err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalln("unable to connect to database", err.Error())
	}

	db.SetMaxOpenConns(conf.DBMaxOpenConns)
	db.SetMaxIdleConns(conf.DBMaxIdleConns)

	slog.Info("connected to database")

	return db
}
