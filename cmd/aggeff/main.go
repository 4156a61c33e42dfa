// Command aggeff evaluates aggregation efficiencies from a case file.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := Root.ExecuteContext(context.Background()); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
