package main

import (
	"github.com/AureliaStudio/conveyor/internal/bootstrap"
	"github.com/AureliaStudio/conveyor/pkg"
)

func main() {
	pkg.InitLocalEnvConfig()
	bootstrap.InitService().Run()
}
