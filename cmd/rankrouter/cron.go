package main

import (
	"context"
	"time"

	"RankRouter/internal/biz"
	"RankRouter/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// StartMaintenanceCron 启动配额维护定时任务
// 执行频率：每小时整点执行一次
// 维护内容：月度配额重置扫描、使用历史清理、配额耗尽预测告警
func StartMaintenanceCron(quota *biz.QuotaUsecase, qc *conf.Quota, logger log.Logger) (*cron.Cron, func()) {
	helper := log.NewHelper(logger)

	warningWindow := 7 * 24 * time.Hour
	if qc != nil && qc.ExhaustionWarningDays > 0 {
		warningWindow = time.Duration(qc.ExhaustionWarningDays) * 24 * time.Hour
	}

	c := cron.New(cron.WithSeconds())

	// 每小时整点执行一次
	// Cron 表达式：0 0 * * * * （秒 分 时 日 月 周）
	_, err := c.AddFunc("0 0 * * * *", func() {
		helper.Info("Starting quota maintenance sweep...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		quota.Maintain(ctx, warningWindow)
		helper.Info("Quota maintenance sweep completed")
	})

	if err != nil {
		helper.Errorw("msg", "failed to register maintenance cron job", "error", err)
		return nil, func() {}
	}

	c.Start()
	helper.Info("Quota maintenance cron job started: runs hourly")

	cleanup := func() {
		helper.Info("stopping quota maintenance cron")
		c.Stop()
	}
	return c, cleanup
}
