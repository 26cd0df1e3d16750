package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env    string `yaml:"env" env-default:"local"`
	Listen struct {
		BindIP string `yaml:"bind_ip" env-default:"127.0.0.1"`
		Port   string `yaml:"port" env-default:"9200"`
		ApiKey string `yaml:"key" env-default:""`
	} `yaml:"listen"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:"admin"`
		Password string `yaml:"password" env-default:"pass"`
		Database string `yaml:"database" env-default:""`
	} `yaml:"mongo"`
	WhatsApp struct {
		AccessToken   string `yaml:"access_token" env-default:""`
		VerifyToken   string `yaml:"verify_token" env-default:""`
		AppSecret     string `yaml:"app_secret" env-default:""`
		PhoneNumberID string `yaml:"phone_number_id" env-default:""`
	} `yaml:"whatsapp"`
	Enrichment struct {
		BaseURL        string `yaml:"base_url" env-default:""`
		TimeoutSeconds int    `yaml:"timeout_seconds" env-default:"15"`
		StaleMinutes   int    `yaml:"stale_minutes" env-default:"60"`
	} `yaml:"enrichment"`
	Console struct {
		MessagePageSize      int `yaml:"message_page_size" env-default:"30"`
		ConversationPageSize int `yaml:"conversation_page_size" env-default:"20"`
		DedupWindowMs        int `yaml:"dedup_window_ms" env-default:"1000"`
		UnreadFlushMs        int `yaml:"unread_flush_ms" env-default:"500"`
		NearBottomPx         int `yaml:"near_bottom_px" env-default:"80"`
		NearTopPx            int `yaml:"near_top_px" env-default:"80"`
	} `yaml:"console"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("%s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}
